package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"ficsync/internal/app"
	"ficsync/pkg/banner"
	"ficsync/pkg/config"
	"ficsync/pkg/logger"
	"ficsync/pkg/models"
	"ficsync/pkg/shutdown"
	msgsync "ficsync/pkg/sync"
)

// version is stamped via -ldflags "-X main.version=..." at release time.
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	cfgVal, convID, apiBase, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	eff, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// flags win over env/config
	if setFlags["api"] && apiBase != "" {
		eff.Config.API.BaseURL = apiBase
		if eff.Source != "" {
			eff.Source = "flags, " + eff.Source
		} else {
			eff.Source = "flags"
		}
	}

	logger.Init(eff.Config.Logging.Level)

	a, err := app.New(eff, convID, version)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()

	banner.Print(eff, convID, version)

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	notifier := msgsync.NotifierFunc(func(m string) {
		fmt.Printf("\n! %s\n", m)
	})

	if err := a.Open(ctx, notifier); err != nil {
		log.Fatalf("failed to open session: %v", err)
	}
	sess := a.Session()

	if title := a.Conversation().Title; title != "" {
		fmt.Printf("-- %s --\n", title)
	}

	go renderLoop(ctx, sess)

	// stdin REPL; each line is one message
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nleaving conversation")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimSpace(line) == "/quit" {
				return
			}
			sess.Typing(true)
			outcome := sess.Send(ctx, line)
			sess.Typing(false)
			if outcome == msgsync.SendNoop && strings.TrimSpace(line) != "" {
				fmt.Println("! a send is already in progress")
			}
		}
	}
}

// renderLoop prints messages as the merged list grows. Entries are keyed by
// clientMessageId (stable across placeholder confirmation) so a confirmed
// message is not printed twice.
func renderLoop(ctx context.Context, sess *msgsync.Session) {
	printed := map[string]bool{}
	typing := false
	render := func() {
		for _, m := range sess.Messages() {
			key := m.ClientMessageID
			if key == "" {
				key = m.ID
			}
			if key == "" || printed[key] {
				continue
			}
			printed[key] = true
			fmt.Printf("[%s] %s\n", senderLabel(m), m.Content)
		}
		if t := sess.AgentTyping(); t != typing {
			typing = t
			if typing {
				fmt.Println("... agent is typing")
			}
		}
	}
	render()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sess.Updates():
			if !ok {
				return
			}
			render()
		}
	}
}

func senderLabel(m models.Message) string {
	if m.Sender.Name != "" {
		return m.Sender.Name
	}
	if m.Sender.Type == models.SenderAgent {
		return "agent"
	}
	return "you"
}
