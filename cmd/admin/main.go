package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"productchat/backend/internal/config"
	"productchat/backend/internal/storage"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: admin <chats <user_id> | messages <chat_id>>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("CHAT_DATABASE_DSN is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	storageSvc := storage.NewStorageService(db)

	switch os.Args[1] {
	case "chats":
		if err := printChats(storageSvc, os.Args[2]); err != nil {
			log.Fatalf("Error listing chats: %v", err)
		}
	case "messages":
		chatID, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			fmt.Println("Invalid chat ID. Please provide an integer.")
			os.Exit(1)
		}
		if err := printMessages(storageSvc, uint(chatID)); err != nil {
			log.Fatalf("Error listing messages: %v", err)
		}
	default:
		fmt.Println("Unknown command")
		os.Exit(1)
	}
}

func printChats(s storage.ChatStore, userID string) error {
	chats, err := s.ListSessionsFor(userID)
	if err != nil {
		return err
	}
	for _, c := range chats {
		last := "-"
		if c.LastMessage != nil {
			last = fmt.Sprintf("%s: %s", c.LastMessage.SenderID, c.LastMessage.Text)
		}
		fmt.Printf("%d\tproduct=%s\t%s <-> %s\t%s\n", c.ID, c.ProductID, c.User1ID, c.User2ID, last)
	}
	return nil
}

func printMessages(s storage.ChatStore, chatID uint) error {
	msgs, err := s.ListMessages(chatID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Printf("%s\t%s\t%s\n", m.Timestamp.Format("2006-01-02 15:04:05"), m.SenderID, m.Text)
	}
	return nil
}
