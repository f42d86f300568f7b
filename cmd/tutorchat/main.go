package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain/entities"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/audio"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/config"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/tutor"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.NewClientConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	var player audio.Player = audio.NewPacedPlayer(cfg.AudioSampleRate, nil)
	if cfg.AudioCommand != "" {
		player, err = audio.NewCommandPlayer(cfg.AudioCommand, logger)
		if err != nil {
			logger.Fatal("Invalid audio command", zap.Error(err))
		}
	}

	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	session, err := tutor.NewSession(tutor.Options{
		BaseURL:        cfg.TutorURL,
		ClientID:       cfg.ClientID,
		ReconnectDelay: cfg.ReconnectDelay,
		Header:         header,
		Player:         player,
		Logger:         logger,
		OnMessage:      printMessage,
	})
	if err != nil {
		logger.Fatal("Failed to create tutor session", zap.Error(err))
	}

	logger.Info("Connecting to tutor", zap.String("url", session.URL()))
	if err := session.Connect(); err != nil {
		logger.Fatal("Failed to connect", zap.Error(err))
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println("Type a question and press enter. /stop silences audio, /quit exits.")

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit":
				break loop
			case "/stop":
				if !session.CancelAudio() {
					fmt.Println("(no audio playing)")
				}
			default:
				sent, err := session.Send(line)
				if err != nil {
					logger.Error("Failed to send message", zap.Error(err))
					break loop
				}
				if !sent {
					fmt.Printf("(%s, message not sent)\n", session.Status())
				}
			}

		case <-interrupt:
			break loop
		}
	}

	if err := session.Close(); err != nil {
		logger.Warn("Session close", zap.Error(err))
	}
}

func printMessage(m entities.Message) {
	label := string(m.Role)
	if m.Mode != "" {
		label += "/" + m.Mode
	}
	fmt.Printf("%s [%s] %s\n", m.Timestamp, label, m.Content)
}
