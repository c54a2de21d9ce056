package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-groupchat-backend/internal/config"
	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/events"
	"github.com/tbourn/go-groupchat-backend/internal/repo"
	"github.com/tbourn/go-groupchat-backend/internal/services"
	"github.com/tbourn/go-groupchat-backend/internal/utils"
)

var askOpts struct {
	providers  string
	sequential bool
	system     string
	stream     bool
}

var askCmd = &cobra.Command{
	Use:   "ask [flags] <message>",
	Short: "Run one turn against the catalog and print every reply",
	Example: `  groupchatd ask --providers chatgpt,claude "What is the capital of Australia?"
  groupchatd ask --sequential --stream "Summarize the CAP theorem"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	f := askCmd.Flags()
	f.StringVarP(&askOpts.providers, "providers", "p", "", "comma separated provider ids (default: every provider with a key)")
	f.BoolVar(&askOpts.sequential, "sequential", false, "ask providers one after another")
	f.StringVar(&askOpts.system, "system", "", "system prompt prepended to the conversation")
	f.BoolVar(&askOpts.stream, "stream", false, "print partial replies as they arrive")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	catalog, err := config.OpenCatalog(cfg.Providers.File)
	if err != nil {
		return err
	}
	ids := utils.SplitList(askOpts.providers)
	if len(ids) == 0 {
		for _, p := range catalog.List() {
			if p.APIKey != "" {
				ids = append(ids, p.ID)
			}
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no provider has an API key; set one or pass --providers")
	}

	db, err := repo.OpenSQLite(fmt.Sprintf("file:ask_%s?mode=memory&cache=shared", uuid.NewString()), repo.WithMaxOpenConns(1))
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	bus := events.NewBus(cfg.EventBuffer)
	bus.Start(context.Background())
	defer bus.Close()

	svc := services.NewGroupService(db, repo.Store{}, catalog, newCoordinator(cfg), bus, replyDefaults(cfg))
	settings := domain.DefaultGroupSettings()
	settings.MaxConcurrent = max(cfg.Reply.MaxConcurrent, 1)
	settings.SystemPrompt = askOpts.system
	if askOpts.sequential {
		settings.ReplyMode = domain.ModeSequential
	}

	ctx := cmd.Context()
	g, err := svc.CreateGroup(ctx, services.CreateGroupInput{Name: "ask", ProviderIDs: ids, Settings: &settings})
	if err != nil {
		return err
	}
	if askOpts.stream {
		unsubscribe := bus.SubscribeGroup(g.ID, streamPrinter(cmd.ErrOrStderr()))
		defer unsubscribe()
	}

	turn, err := svc.SendUserMessage(ctx, g.ID, strings.Join(args, " "), services.SendOptions{})
	if err != nil {
		return err
	}
	results, err := turn.Wait(ctx)
	if err != nil {
		return err
	}
	printResults(cmd.OutOrStdout(), ids, results)

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = bus.Flush(sctx)
	return svc.Shutdown(sctx)
}

// streamPrinter writes reply progress as it is published.
func streamPrinter(w io.Writer) events.Observer {
	return events.ObserverFunc(func(e events.Event) {
		switch e.Type {
		case events.ReplyProgress:
			fmt.Fprintf(w, "[%s] %s\n", e.ProviderID, e.Delta)
		case events.ReplyRetrying:
			fmt.Fprintf(w, "[%s] retrying (attempt %d)\n", e.ProviderID, e.Attempt)
		}
	})
}

func printResults(w io.Writer, order []string, results map[string]domain.ReplyResult) {
	for _, id := range order {
		r, ok := results[id]
		if !ok {
			continue
		}
		name := r.ProviderName
		if name == "" {
			name = id
		}
		if r.Success {
			fmt.Fprintf(w, "== %s (%s, %d retries)\n%s\n\n", name, r.Elapsed.Round(time.Millisecond), r.Retries, r.Text)
			continue
		}
		fmt.Fprintf(w, "== %s failed: %s (%s)\n\n", name, r.Error, r.ErrorKind)
	}
}
