package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/antoniostano/chorus/internal/config"
	"github.com/antoniostano/chorus/internal/rooms"
)

func main() {
	roomName := flag.String("room-name", "", "room name to create (default: derived from the current time)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall provisioning timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.ValidateProvision(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	opts := []rooms.Option{}
	if cfg.DailyAPIBase != "" {
		opts = append(opts, rooms.WithBaseURL(cfg.DailyAPIBase))
	}
	client := rooms.NewClient(cfg.DailyAPIKey, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cred, err := client.Provision(ctx, *roomName)
	if err != nil {
		log.Printf("provisioning failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("Room name:  %s\n", cred.RoomName)
	fmt.Printf("Room URL:   %s\n", cred.RoomURL)
	fmt.Printf("Token:      %s\n", cred.Token)
	fmt.Printf("Expires:    %s\n", cred.Expires.Format(time.RFC3339))
	fmt.Println()
	fmt.Printf("Run the assistant with:\n")
	fmt.Printf("  DAILY_ROOM_URL=%s DAILY_TOKEN=%s chorus\n", cred.RoomURL, cred.Token)
}
