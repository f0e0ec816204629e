package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"chatsync/internal/app/session"
	"chatsync/internal/domain/chat"
	"chatsync/internal/infra/broker/kafka"
	"chatsync/internal/infra/config"
	"chatsync/internal/infra/obs"
	"chatsync/internal/infra/transport"
)

func main() {
	conversation := flag.String("conversation", "", "conversation id to open")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)
	if *conversation == "" {
		logger.Error("flag -conversation is required")
		os.Exit(1)
	}

	assetBase, err := url.Parse(cfg.AssetBaseURL)
	if err != nil {
		logger.Error("invalid asset base URL", "error", err, "url", cfg.AssetBaseURL)
		os.Exit(1)
	}
	normalizer := chat.Normalizer{AssetBase: assetBase}

	client, err := transport.NewClient(transport.Config{
		BaseURL:        cfg.BaseURL,
		Token:          cfg.Token,
		Timeout:        cfg.HTTPTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, normalizer, obs.Component(logger, "transport"))
	if err != nil {
		logger.Error("transport init failed", "error", err)
		os.Exit(1)
	}

	var feed session.Feed
	switch cfg.RealtimeMode {
	case config.RealtimeKafka:
		feed = &kafka.Feed{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
			GroupID:     cfg.KafkaGroupID,
			Normalizer:  normalizer,
			Logger:      obs.Component(logger, "kafka"),
		}
	default:
		feed = &transport.WSFeed{
			URL:        cfg.WSURL,
			Token:      cfg.Token,
			Normalizer: normalizer,
			Logger:     obs.Component(logger, "realtime"),
		}
	}

	sess := session.New(session.Config{
		SelfID:       cfg.SelfID,
		PollInterval: cfg.PollInterval,
	}, client, feed, obs.Component(logger, "session"))
	defer sess.Close()

	sess.OnTyping(func(event chat.TypingEvent) {
		if event.Typing {
			fmt.Printf("-- user %d is typing...\n", event.UserID)
		}
	})
	cancel := sess.Subscribe(func() { render(sess) })
	defer cancel()

	if err := sess.Open(ctx, *conversation); err != nil {
		logger.Error("open conversation failed", "error", err, "conversation_id", *conversation)
		os.Exit(1)
	}
	fmt.Printf("connected to %s as user %d; type a message, /file <path>, /delete <id>, /switch <conversation>, /quit\n", *conversation, cfg.SelfID)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if done := handleLine(ctx, sess, logger, line); done {
				return
			}
		}
	}
}

func handleLine(ctx context.Context, sess *session.Session, logger *slog.Logger, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case strings.HasPrefix(line, "/switch "):
		target := strings.TrimSpace(strings.TrimPrefix(line, "/switch "))
		if err := sess.Open(ctx, target); err != nil {
			logger.Warn("switch failed", "error", err, "conversation_id", target)
		}
	case strings.HasPrefix(line, "/delete "):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/delete "))
		if err := sess.Delete(ctx, id); err != nil {
			logger.Warn("delete failed", "error", err, "message_id", id)
		}
	case strings.HasPrefix(line, "/file "):
		sendFile(ctx, sess, logger, strings.TrimSpace(strings.TrimPrefix(line, "/file ")))
	default:
		if err := sess.Send(ctx, line); err != nil {
			logger.Warn("send failed", "error", err)
		}
	}
	return false
}

func sendFile(ctx context.Context, sess *session.Session, logger *slog.Logger, path string) {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("file open failed", "error", err, "path", path)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		logger.Warn("file stat failed", "error", err, "path", path)
		return
	}
	if err := sess.SendFile(ctx, filepath.Base(path), f, info.Size(), kindForFile(path)); err != nil {
		logger.Warn("file send failed", "error", err, "path", path)
	}
}

func kindForFile(path string) chat.Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return chat.KindImage
	case ".mp4", ".webm", ".mov":
		return chat.KindVideo
	case ".pdf", ".doc", ".docx", ".txt":
		return chat.KindDocument
	default:
		return chat.KindFile
	}
}

func render(sess *session.Session) {
	snapshot := sess.Snapshot()
	if len(snapshot.Messages) == 0 {
		return
	}
	last := snapshot.Messages[len(snapshot.Messages)-1]
	marker := " "
	if last.Provisional {
		marker = "~"
	}
	who := fmt.Sprintf("user %d", last.SenderID)
	if last.Own(sess.SelfID()) {
		who = "you"
	}
	body := last.Content
	if last.AttachmentURL != "" {
		body = fmt.Sprintf("%s (%s)", body, last.AttachmentURL)
	}
	fmt.Printf("%s[%s] %s: %s\n", marker, last.CreatedAt.Local().Format("15:04:05"), who, body)
}
