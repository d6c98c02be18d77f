package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"searchveil/classmap"
	"searchveil/internal/config"
	"searchveil/rewrite"
	"searchveil/shield"
)

// NewRewriteCmd creates the rewrite command.
func NewRewriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrite [file]",
		Short: "Sanitize a saved result page",
		Long: `Rewrite runs the sanitizing pipeline over a saved upstream result page and
prints the rewritten HTML. The page is read from file or standard input.

Without --key a random key is used, so the emitted tokens can only be read
back with the key printed by --stats.

Examples:
  searchveil rewrite --root http://localhost:5000 --query cats results.html
  curl -s ... | searchveil rewrite --minimal --skip collapse`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRewrite,
	}
	addKeyFlag(cmd)
	cmd.Flags().String("root", "", "proxy root URL used in rewritten links")
	cmd.Flags().String("query", "", "query the page answers")
	cmd.Flags().String("vocabulary", "", "vocabulary YAML file")
	cmd.Flags().StringSlice("skip", nil, "stages to disable")
	cmd.Flags().Bool("minimal", false, "drop non-result sections")
	cmd.Flags().Bool("anon-view", false, "add anonymous view links")
	cmd.Flags().Bool("new-tab", false, "open results in a new tab")
	cmd.Flags().Bool("mobile", false, "treat the page as a mobile layout")
	cmd.Flags().String("block", "", "comma separated sites to hide")
	cmd.Flags().Bool("stats", false, "print run statistics to stderr")
	return cmd
}

func runRewrite(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}

	key, err := keyFrom(cmd)
	if errors.Is(err, errNoKey) {
		key, err = shield.NewKey()
	}
	if err != nil {
		return err
	}

	vocabFlag, _ := cmd.Flags().GetString("vocabulary")
	vocab, _, err := config.LoadVocabulary(vocabFlag)
	if err != nil {
		return err
	}
	skip, _ := cmd.Flags().GetStringSlice("skip")
	p := rewrite.New(classmap.Default(), vocab, rewrite.WithoutStages(skip...))

	flags := cmd.Flags()
	root, _ := flags.GetString("root")
	query, _ := flags.GetString("query")
	block, _ := flags.GetString("block")
	minimal, _ := flags.GetBool("minimal")
	anonView, _ := flags.GetBool("anon-view")
	newTab, _ := flags.GetBool("new-tab")
	mobile, _ := flags.GetBool("mobile")
	ctx := rewrite.Context{
		RootURL: root,
		Query:   query,
		Mobile:  mobile,
		Config: rewrite.UserConfig{
			Block:    block,
			Minimal:  minimal,
			AnonView: anonView,
			NewTab:   newTab,
		},
	}

	res, err := p.Sanitize(string(raw), ctx, key)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(cmd.OutOrStdout(), res.HTML); err != nil {
		return err
	}
	if stats, _ := flags.GetBool("stats"); stats {
		fmt.Fprintf(cmd.ErrOrStderr(), "shielded=%d removed=%d stages=%d key=%x\n",
			res.Shielded, res.Removed, len(res.Stages), key)
	}
	return nil
}
