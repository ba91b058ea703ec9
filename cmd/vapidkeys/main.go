package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type keyFile struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	Subject    string `json:"subject,omitempty"`
}

func main() {
	out := flag.String("out", "", "write the key pair to this file instead of stdout")
	subject := flag.String("subject", "mailto:pwa-demo@example.com", "contact URI sent to push services")
	flag.Parse()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		slog.Error("failed to generate VAPID keys", "error", err)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(keyFile{PublicKey: publicKey, PrivateKey: privateKey, Subject: *subject}, "", "  ")
	if err != nil {
		slog.Error("failed to encode VAPID keys", "error", err)
		os.Exit(1)
	}
	data = append(data, '\n')

	if *out == "" {
		fmt.Print(string(data))
		return
	}
	if err := os.WriteFile(*out, data, 0600); err != nil {
		slog.Error("failed to write VAPID keys", "path", *out, "error", err)
		os.Exit(1)
	}
	slog.Info("VAPID keys written", "path", *out)
	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", publicKey)
}
