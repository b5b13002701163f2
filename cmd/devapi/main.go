// Command devapi serves an in-memory activities service for local development.
package main

import (
	"flag"
	"log"
	"net/http"

	"signupboard/internal/adapters/activityapi/activityapitest"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	flag.Parse()

	svc := activityapitest.NewService(activityapitest.Seed()...)
	log.Printf("Fake activities service on %s", *addr)
	if err := http.ListenAndServe(*addr, svc.Handler()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
