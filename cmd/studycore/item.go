package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/studycore/internal/learning"
	"github.com/at-ishikawa/studycore/internal/srs"
)

func newItemCommand() *cobra.Command {
	itemCommand := &cobra.Command{
		Use:   "item",
		Short: "Manage and review study items",
	}

	itemCommand.AddCommand(
		newItemAddCommand(),
		newItemImportCommand(),
		newItemRateCommand(),
		newItemPreviewCommand(),
		newItemDueCommand(),
		newItemStatsCommand(),
	)
	return itemCommand
}

func newItemAddCommand() *cobra.Command {
	var in learning.NewItem
	command := &cobra.Command{
		Use:   "add",
		Short: "Add a study item",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, services, err := openServices(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeServices(services)

			item, err := services.Learning.CreateItem(cmd.Context(), ownerID, in)
			if err != nil {
				return err
			}
			printItem(cmd.OutOrStdout(), item)
			return nil
		},
	}
	command.Flags().StringVar(&in.Front, "front", "", "question side")
	command.Flags().StringVar(&in.Back, "back", "", "answer side")
	command.Flags().StringVar(&in.Subject, "subject", "", "subject")
	command.Flags().StringVar(&in.Topic, "topic", "", "topic")
	command.Flags().StringVar(&in.Subtopic, "subtopic", "", "sub-topic")
	command.Flags().StringVar(&in.CollectionID, "collection", "", "collection id")
	_ = command.MarkFlagRequired("front")
	_ = command.MarkFlagRequired("back")
	return command
}

func newItemImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import study items from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := learning.LoadImportFile(args[0])
			if err != nil {
				return err
			}

			_, services, err := openServices(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeServices(services)

			created, err := services.Learning.ImportItems(cmd.Context(), ownerID, items)
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), fmt.Sprintf("imported %d item(s)", len(created)))
			return nil
		},
	}
}

func newItemRateCommand() *cobra.Command {
	var (
		quality      int
		responseTime time.Duration
	)
	command := &cobra.Command{
		Use:   "rate <item-id> [button]",
		Short: "Rate an item with a 1-4 button (again, hard, good, easy) or --quality 0-5",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			useQuality := cmd.Flags().Changed("quality")
			if len(args) == 1 && !useQuality {
				return fmt.Errorf("either a button or --quality is required")
			}

			var button srs.Button
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("%w: button %q is not a number", srs.ErrInvalidRating, args[1])
				}
				button = srs.Button(n)
			}

			_, services, err := openServices(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeServices(services)

			var item *learning.Item
			if useQuality {
				item, err = services.Learning.Rate(cmd.Context(), ownerID, args[0], quality, responseTime)
			} else {
				item, err = services.Learning.RateButton(cmd.Context(), ownerID, args[0], button, responseTime)
			}
			if err != nil {
				return err
			}
			printItem(cmd.OutOrStdout(), item)
			return nil
		},
	}
	command.Flags().IntVar(&quality, "quality", 0, "raw 0-5 recall quality instead of a button")
	command.Flags().DurationVar(&responseTime, "response-time", 0, "time taken to answer")
	return command
}

func newItemPreviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <item-id>",
		Short: "Show the next interval of each rating button",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, services, err := openServices(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeServices(services)

			preview, err := services.Learning.Preview(cmd.Context(), ownerID, args[0])
			if err != nil {
				return err
			}
			printPreview(cmd.OutOrStdout(), preview)
			return nil
		},
	}
}

func newItemDueCommand() *cobra.Command {
	var limit int
	command := &cobra.Command{
		Use:   "due",
		Short: "List items due for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, services, err := openServices(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeServices(services)

			items, err := services.Learning.Due(cmd.Context(), ownerID, limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				printSuccess(cmd.OutOrStdout(), "nothing is due")
				return nil
			}
			for i := range items {
				printItem(cmd.OutOrStdout(), &items[i])
			}
			return nil
		},
	}
	command.Flags().IntVar(&limit, "limit", 50, "maximum number of items")
	return command
}

func newItemStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize items by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, services, err := openServices(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeServices(services)

			stats, err := services.Learning.Stats(cmd.Context(), ownerID)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}
