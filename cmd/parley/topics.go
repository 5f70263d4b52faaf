package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/parley/pkg/chat"
)

func newTopicsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List stored chat topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			topics, err := store.ListTopics(cmd.Context())
			if err != nil {
				return err
			}
			for _, topic := range topics {
				fmt.Printf("%s\t%s\t%s\n",
					topic.ID, topic.CreatedAt.Format("2006-01-02 15:04"), topic.Name)
			}
			return nil
		},
	}
}

type exportedBlock struct {
	Type    chat.BlockType    `yaml:"type"`
	Status  chat.BlockStatus  `yaml:"status"`
	Content chat.BlockContent `yaml:"content"`
}

type exportedMessage struct {
	ID     chat.MessageID     `yaml:"id"`
	Role   chat.Role          `yaml:"role"`
	Status chat.MessageStatus `yaml:"status"`
	AskID  chat.MessageID     `yaml:"askId,omitempty"`
	Blocks []exportedBlock    `yaml:"blocks"`
}

type exportedTopic struct {
	ID       chat.TopicID      `yaml:"id"`
	Name     string            `yaml:"name"`
	Messages []exportedMessage `yaml:"messages"`
}

func newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <topic-id>",
		Short: "Export a topic's conversation as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			topicID := chat.TopicID(args[0])
			topic, err := store.GetTopic(cmd.Context(), topicID)
			if err != nil {
				return err
			}

			export := exportedTopic{ID: topic.ID, Name: topic.Name}
			for _, msg := range topic.Messages {
				blocks, err := store.GetBlocks(cmd.Context(), msg.BlockIDs)
				if err != nil {
					return errors.Wrapf(err, "loading blocks of message %s", msg.ID)
				}
				em := exportedMessage{
					ID:     msg.ID,
					Role:   msg.Role,
					Status: msg.Status,
					AskID:  msg.AskID,
				}
				for _, block := range blocks {
					em.Blocks = append(em.Blocks, exportedBlock{
						Type:    block.Type(),
						Status:  block.Status,
						Content: block.Content,
					})
				}
				export.Messages = append(export.Messages, em)
			}

			encoder := yaml.NewEncoder(os.Stdout)
			encoder.SetIndent(2)
			defer func() { _ = encoder.Close() }()
			return encoder.Encode(export)
		},
	}
}
