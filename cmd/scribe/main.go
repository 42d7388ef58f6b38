// cmd/scribe/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"scribe/internal/config"
	"scribe/internal/diff"
	"scribe/internal/errs"
	"scribe/internal/logging"
	"scribe/internal/repo"
	"scribe/internal/wiki"
)

var (
	authorName  string
	authorEmail string
	message     string
	baseRev     string
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Scribe is a version-controlled wiki engine",
	Long: `Scribe stores wiki articles in a content-addressed revision store and
keeps a relational search index synchronized with it. Every edit is an
immutable revision; search, history, diffs, and per-revision discussion
threads are served from the same data directory.`,
}

func openEngine() (*wiki.Engine, func() error, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	return wiki.Open(cfg, logger)
}

func author() repo.Signature {
	return repo.Signature{Name: authorName, Email: authorEmail}
}

func writeContext() (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.Background(), func() {}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&authorName, "author", "anonymous", "author name for writes")
	rootCmd.PersistentFlags().StringVar(&authorEmail, "email", "", "author email for writes")

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new wiki repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			defer closer()

			_ = engine
			fmt.Println("Initialized wiki repository")
			return nil
		},
	}

	var getCmd = &cobra.Command{
		Use:   "get <path>",
		Short: "Print the current content of an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			content, revision, err := engine.GetArticle(context.Background(), args[0])
			if err != nil {
				return err
			}

			color.New(color.FgYellow).Fprintf(os.Stderr, "revision %s\n", revision)
			os.Stdout.Write(content)
			return nil
		},
	}

	var putCmd = &cobra.Command{
		Use:   "put <path> [file]",
		Short: "Write article content from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content []byte
			var err error
			if len(args) == 2 {
				content, err = os.ReadFile(args[1])
			} else {
				content, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}

			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := writeContext()
			defer cancel()

			revision, err := engine.PutArticle(ctx, args[0], content, author(), message, repo.WriteOptions{Base: baseRev})
			if err != nil {
				return err
			}

			fmt.Println(revision)
			return nil
		},
	}
	putCmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	putCmd.Flags().StringVar(&baseRev, "base", "", "revision the edit was based on")
	putCmd.Flags().DurationVar(&timeout, "timeout", 0, "write deadline (0 for none)")

	var renameCmd = &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename an article, preserving its history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			revision, err := engine.RenameArticle(context.Background(), args[0], args[1], author(), message)
			if err != nil {
				return err
			}

			fmt.Println(revision)
			return nil
		},
	}
	renameCmd.Flags().StringVarP(&message, "message", "m", "", "commit message")

	var deleteCmd = &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			revision, err := engine.DeleteArticle(context.Background(), args[0], author(), message)
			if err != nil {
				return err
			}

			fmt.Println(revision)
			return nil
		},
	}
	deleteCmd.Flags().StringVarP(&message, "message", "m", "", "commit message")

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List live articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			paths, err := engine.ListArticles()
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show every revision, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			revisions, err := engine.Log()
			if err != nil {
				return err
			}

			yellow := color.New(color.FgYellow)
			for _, rev := range revisions {
				yellow.Printf("%s", rev.ID[:12])
				fmt.Printf("  %s  %s  %s\n",
					rev.Time.Format(time.RFC3339), rev.Author.Name, rev.Message)
			}
			return nil
		},
	}

	var historyCmd = &cobra.Command{
		Use:   "history <path>",
		Short: "Show the revisions that touched an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			history, err := engine.History(args[0])
			if err != nil {
				return err
			}

			yellow := color.New(color.FgYellow)
			for _, rev := range history {
				yellow.Printf("%s", rev.ID[:12])
				fmt.Printf("  %s  %-10s %s  %s\n",
					rev.Time.Format(time.RFC3339), rev.Kind, rev.Author.Name, rev.Message)
			}
			return nil
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff <path> <revA> <revB>",
		Short: "Show the line diff of an article between two revisions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			result, err := engine.Diff(args[0], args[1], args[2])
			if err != nil {
				return err
			}

			if result.Rename != nil {
				color.New(color.FgCyan).Printf("renamed %s -> %s (similarity %.0f%%)\n",
					result.Rename.From, result.Rename.To, result.Rename.Score*100)
			}
			printDiff(result.Result)
			return nil
		},
	}

	var renamesCmd = &cobra.Command{
		Use:   "renames <revA> <revB>",
		Short: "Detect articles moved by delete-and-re-add between two revisions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			links, err := engine.RenamesBetween(args[0], args[1])
			if err != nil {
				return err
			}
			for _, link := range links {
				color.New(color.FgCyan).Printf("%s -> %s", link.From, link.To)
				fmt.Printf("  (similarity %.0f%%)\n", link.Score*100)
			}
			return nil
		},
	}

	var searchCmd = &cobra.Command{
		Use:   "search <term>",
		Short: "Search article titles and content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			entries, err := engine.Search(context.Background(), args[0])
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Printf("%s\t%s\t%s\n", entry.Path, entry.Title, entry.RevisionID[:12])
			}
			return nil
		},
	}

	var commentCmd = &cobra.Command{
		Use:   "comment <revision> <body>",
		Short: "Append a comment to a revision's discussion thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			id, err := engine.AddComment(args[0], authorName, args[1])
			if err != nil {
				return err
			}

			fmt.Println(id)
			return nil
		},
	}

	var commentsCmd = &cobra.Command{
		Use:   "comments <revision>",
		Short: "Show a revision's discussion thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			comments, err := engine.Comments(args[0])
			if err != nil {
				return err
			}
			for _, c := range comments {
				color.New(color.FgGreen).Printf("%s", c.Author)
				fmt.Printf("  %s\n%s\n", c.Time.Format(time.RFC3339), c.Body)
			}
			return nil
		},
	}

	var revertCmd = &cobra.Command{
		Use:   "revert <revision>",
		Short: "Apply the inverse of a revision on top of the head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			revision, err := engine.RevertRevision(context.Background(), args[0], author())
			if err != nil {
				return err
			}

			fmt.Println(revision)
			return nil
		},
	}

	var reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the search index from the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closer, err := openEngine()
			if err != nil {
				return err
			}
			defer closer()

			if err := engine.Drift(); errs.IsDrift(err) {
				color.New(color.FgYellow).Printf("%v\n", err)
			}

			if err := engine.Reconcile(); err != nil {
				return err
			}

			fmt.Println("Index reconciled")
			return nil
		},
	}

	rootCmd.AddCommand(initCmd, getCmd, putCmd, renameCmd, deleteCmd, listCmd,
		logCmd, historyCmd, diffCmd, renamesCmd, searchCmd, commentCmd,
		commentsCmd, revertCmd, reconcileCmd)
}

func printDiff(result *diff.Result) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	for _, hunk := range result.Hunks {
		color.New(color.FgCyan).Printf("@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines, hunk.NewStart, hunk.NewLines)
		for _, line := range hunk.Lines {
			switch line.Type {
			case diff.Addition:
				green.Printf("+ %s\n", line.Content)
			case diff.Deletion:
				red.Printf("- %s\n", line.Content)
			default:
				fmt.Printf("  %s\n", line.Content)
			}
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
