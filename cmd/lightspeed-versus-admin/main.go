package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-versus/auth"
	"github.com/tcriess/lightspeed-versus/config"
	"github.com/tcriess/lightspeed-versus/globals"
	"github.com/tcriess/lightspeed-versus/persistence"
	"github.com/tcriess/lightspeed-versus/types"
)

// A very simple CLI tool for the administration of recorded matches and for issuing signed tokens.

const commandTimeout = 30 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	log.SetFlags(0)

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)

	var rootCmd = &cobra.Command{Use: "lightspeed-versus-admin"}
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	var globalConfig *config.Config
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		globalConfig, err = config.ReadConfiguration(*configPath, flagSet)
		if err != nil {
			return err
		}
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
		return nil
	}

	// withPersister opens the configured persister for the duration of one command.
	withPersister := func(f func(ctx context.Context, persister persistence.Persister) error) error {
		persister, err := persistence.NewPersister(globalConfig)
		if err != nil {
			return err
		}
		if persister == nil {
			return fmt.Errorf("no persistence configured")
		}
		defer persister.Close()
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return f(ctx, persister)
	}

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show recorded matches",
		Long:  `show is for printing recorded matches.`,
	}
	var offset, limit int
	var cmdShowMatches = &cobra.Command{
		Use:   "matches",
		Short: "Show matches",
		Long:  `show matches lists recorded matches, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPersister(func(ctx context.Context, persister persistence.Persister) error {
				matches, err := persister.GetMatches(ctx, offset, limit)
				if err != nil {
					return err
				}
				return printJSON(matches)
			})
		},
	}
	cmdShowMatches.Flags().IntVar(&offset, "offset", 0, "number of matches to skip")
	cmdShowMatches.Flags().IntVar(&limit, "limit", 20, "maximum number of matches to show")

	var cmdShowMatch = &cobra.Command{
		Use:   "match [match id]",
		Short: "Show match",
		Long:  `show match prints the match with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPersister(func(ctx context.Context, persister persistence.Persister) error {
				match, err := persister.GetMatch(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(match)
			})
		},
	}

	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "Delete recorded matches",
		Long:  `delete removes recorded matches.`,
	}
	var cmdDeleteMatch = &cobra.Command{
		Use:   "match [match id]",
		Short: "Delete match",
		Long:  `delete match removes the match with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPersister(func(ctx context.Context, persister persistence.Persister) error {
				err := persister.DeleteMatch(ctx, args[0])
				if err != nil {
					return err
				}
				globals.AppLogger.Info("deleted match", "id", args[0])
				return nil
			})
		},
	}

	var name, email string
	var ttl time.Duration
	var cmdToken = &cobra.Command{
		Use:   "token [user id]",
		Short: "Issue a signed token",
		Long:  `token prints a signed token for the given user id, to be used as the "token" handshake parameter with the jwt auth policy.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalConfig.AuthConfig.Secret == "" {
				return fmt.Errorf("no auth secret configured")
			}
			p := types.Participant{Id: args[0], Name: name, Email: email}
			token, err := auth.IssueToken([]byte(globalConfig.AuthConfig.Secret), globalConfig.AuthConfig.Issuer, p, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmdToken.Flags().StringVar(&name, "name", "", "display name claim")
	cmdToken.Flags().StringVar(&email, "email", "", "email claim")
	cmdToken.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(cmdShow, cmdDelete, cmdToken)
	cmdShow.AddCommand(cmdShowMatches, cmdShowMatch)
	cmdDelete.AddCommand(cmdDeleteMatch)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
