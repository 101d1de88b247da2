// checkd is a standalone detection module daemon conforming to the module
// protocol: it serves /health and /ingest, runs its checks asynchronously
// and reports findings back through the central callbacks.
package main

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"packetwatch/internal/checks"
	"packetwatch/internal/moduleapi"
)

const version = "0.3.0"

func main() {
	_ = godotenv.Load()

	listen := getenv("CHECKD_LISTEN_ADDR", ":9102")
	name := getenv("CHECKD_MODULE_NAME", "combat")
	centralURL := getenv("CHECKD_CENTRAL_URL", "http://127.0.0.1:8080")
	token := os.Getenv("CHECKD_CALLBACK_TOKEN")
	if token == "" {
		log.Fatal("CHECKD_CALLBACK_TOKEN is required")
	}

	client := moduleapi.NewClient(centralURL, token, 5*time.Second)
	check := checks.NewClickSpeed(client, name)

	if err := moduleapi.ListenAndServe(listen, name, version, check.Run); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
