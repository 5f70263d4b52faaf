package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/notify"
	"github.com/go-go-golems/parley/pkg/persist"
	"github.com/go-go-golems/parley/pkg/providers"
	"github.com/go-go-golems/parley/pkg/providers/openai"
	"github.com/go-go-golems/parley/pkg/providers/scripted"
	"github.com/go-go-golems/parley/pkg/service"
)

func newChatCommand() *cobra.Command {
	var topicIDFlag string
	var topicName string
	var useScripted bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start or resume an interactive chat topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := buildAdapter(useScripted)
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			router := notify.NewRouter(notify.WithLogger(log.Logger))
			defer func() { _ = router.Close() }()

			svc := service.New(adapter, store,
				service.WithNotifier(router),
				service.WithLogger(log.Logger),
				service.WithModel(viper.GetString("model")))
			defer svc.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			topicID, err := resolveTopic(ctx, svc, topicIDFlag, topicName)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return printBlockUpdates(gctx, router) })
			g.Go(func() error {
				defer cancel()
				return chatLoop(gctx, svc, topicID)
			})
			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&topicIDFlag, "topic", "", "resume an existing topic by id")
	cmd.Flags().StringVar(&topicName, "name", "chat", "name for a newly created topic")
	cmd.Flags().BoolVar(&useScripted, "scripted", false, "use a canned offline response instead of a provider")
	return cmd
}

func buildAdapter(useScripted bool) (providers.Adapter, error) {
	if useScripted {
		return scripted.NewAdapter([]scripted.Step{
			scripted.TextResponse("This ", "is ", "a ", "scripted ", "response."),
		}, scripted.WithDelay(50*time.Millisecond)), nil
	}
	apiKey := viper.GetString("api-key")
	if apiKey == "" {
		return nil, errors.New("no API key configured (--api-key or PARLEY_API_KEY)")
	}
	return openai.NewAdapter(apiKey, openai.WithLogger(log.Logger)), nil
}

func openStore() (*persist.SQLiteStore, error) {
	dbPath := viper.GetString("db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}
	return persist.NewSQLiteStore(dbPath)
}

func resolveTopic(ctx context.Context, svc *service.ChatService, topicIDFlag, name string) (chat.TopicID, error) {
	if topicIDFlag != "" {
		topicID := chat.TopicID(topicIDFlag)
		if _, err := svc.LoadTopic(ctx, topicID); err != nil {
			return "", err
		}
		return topicID, nil
	}
	return svc.CreateTopic(ctx, name)
}

// chatLoop reads user lines from stdin and waits for each assistant response
// before prompting again.
func chatLoop(ctx context.Context, svc *service.ChatService, topicID chat.TopicID) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf("topic %s, /quit to exit\n", topicID)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		result, err := svc.SendMessage(ctx, topicID, line, nil)
		if err != nil {
			log.Error().Err(err).Msg("sending message")
			continue
		}
		if err := result.Handle.Wait(); err != nil {
			log.Error().Err(err).Msg("assistant run failed")
		}
		fmt.Println()
	}
}

// printBlockUpdates renders streaming block content as it changes.
func printBlockUpdates(ctx context.Context, router *notify.Router) error {
	blocks, err := router.SubscribeBlocks(ctx)
	if err != nil {
		return err
	}

	printed := map[chat.BlockID]int{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case wm, ok := <-blocks:
			if !ok {
				return nil
			}
			var block chat.MessageBlock
			if err := json.Unmarshal(wm.Payload, &block); err != nil {
				log.Warn().Err(err).Msg("decoding block notification")
				wm.Ack()
				continue
			}
			if block.Type() == chat.BlockTypeMainText {
				text := block.Content.String()
				if n := printed[block.ID]; n < len(text) {
					fmt.Print(text[n:])
					printed[block.ID] = len(text)
				}
			} else if printed[block.ID] == 0 {
				fmt.Printf("\n[%s] %s\n", block.Type(), block.Content.String())
				printed[block.ID] = 1
			}
			wm.Ack()
		}
	}
}
