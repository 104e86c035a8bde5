// Command watch follows one conversation from the terminal, printing
// messages as the polling stream merges them.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"murmur/api/internal/clock"
	"murmur/api/internal/config"
	"murmur/api/internal/item"
	"murmur/api/internal/store"
	"murmur/api/internal/syncer"
	"murmur/api/internal/thread"
)

func main() {
	cfg := config.Load()
	conversation := flag.String("conversation", "", "conversation id to follow")
	viewer := flag.String("user", "", "user id to post as")
	say := flag.String("say", "", "send this message before watching")
	interval := flag.Duration("interval", cfg.Poll.Conversation, "poll interval")
	format := flag.String("format", defaultFormat(), "output format: table or json")
	flag.Parse()

	if strings.TrimSpace(*conversation) == "" {
		log.Fatalf("-conversation is required")
	}
	if *format != "table" && *format != "json" {
		log.Fatalf("invalid -format value %q", *format)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()
	rowStore := store.NewSQLStore(db, dialect)

	stream := syncer.New(syncer.Config{
		Name:     "watch:" + *conversation,
		Mode:     syncer.ModeAppend,
		Interval: *interval,
		Source:   syncer.MessageSource{Store: rowStore, ConversationID: *conversation},
		Writer:   syncer.NewStoreWriter(rowStore, clock.Real(), nil),
	})
	defer stream.Close()

	if err := stream.Refresh(ctx); err != nil {
		log.Fatalf("initial fetch failed: %v", err)
	}
	if text := strings.TrimSpace(*say); text != "" {
		if strings.TrimSpace(*viewer) == "" {
			log.Fatalf("-say needs -user")
		}
		err := stream.Submit(ctx, syncer.Action{
			Kind:   syncer.ActionAdd,
			UserID: *viewer,
			Item:   item.Item{Kind: item.KindMessage, StreamID: *conversation, Body: text},
		})
		if err != nil {
			log.Printf("watch: %v", err)
		}
	}

	printer := newPrinter(*format, *viewer)
	printer.print(stream.Snapshot().Items)
	stream.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-stream.Changes():
			if !ok {
				return
			}
			printer.print(stream.Snapshot().Items)
		}
	}
}

func defaultFormat() string {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return "table"
	}
	return "json"
}

// printer writes each message once, in the order the stream merged it.
// Pending messages are held back until their write settles.
type printer struct {
	format  string
	viewer  string
	printed map[string]bool
	enc     *json.Encoder
}

func newPrinter(format, viewer string) *printer {
	return &printer{format: format, viewer: viewer, printed: make(map[string]bool), enc: json.NewEncoder(os.Stdout)}
}

func (p *printer) print(messages thread.Forest) {
	for _, node := range messages {
		msg := node.Item
		if p.printed[msg.ID] || msg.Flag(item.FlagPending) {
			continue
		}
		p.printed[msg.ID] = true
		if p.format == "json" {
			_ = p.enc.Encode(msg)
			continue
		}
		fmt.Printf("%s\t%s\t%s%s\n", msg.CreatedAt.Local().Format(time.Kitchen), p.author(msg), msg.Body, p.suffix(msg))
	}
}

func (p *printer) author(msg item.Item) string {
	const bold, reset = "\033[1m", "\033[0m"
	if msg.AuthorID == p.viewer {
		return bold + "you" + reset
	}
	return bold + msg.AuthorID + reset
}

func (p *printer) suffix(msg item.Item) string {
	if msg.Flag(item.FlagFailed) {
		return "\t\033[31m(not sent)\033[0m"
	}
	return ""
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, store.Dialect, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		return db, store.DialectPostgres, err
	}
	db, err := store.OpenSQLite(ctx, cfg.SQLitePath)
	return db, store.DialectSQLite, err
}
