package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/estimate/go/internal/session/channel"
	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/mockapi"
	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/session/store"
)

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "estimate",
		Short:         "Planning poker from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", getEnv("ESTIMATE_CONFIG", ""), "YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newCreateCmd(opts))
	root.AddCommand(newJoinCmd(opts))
	root.AddCommand(newRejoinCmd(opts))
	root.AddCommand(newDemoCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newProfileCmd(opts))
	return root
}

type profileFlags struct {
	name  string
	emoji string
}

func (f *profileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "display name (saved for next time)")
	cmd.Flags().StringVar(&f.emoji, "emoji", "", "display emoji (saved for next time)")
}

// resolve loads the saved profile and applies and persists any flag overrides.
func (f *profileFlags) resolve(ctx context.Context, st *store.Store) events.Profile {
	profile, err := st.LoadProfile(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not load profile, using defaults")
	}
	if f.name == "" && f.emoji == "" {
		return profile
	}
	if f.name != "" {
		profile.Name = f.name
	}
	if f.emoji != "" {
		profile.Emoji = f.emoji
	}
	if err := st.SaveProfile(ctx, profile); err != nil {
		log.Warn().Err(err).Msg("could not save profile")
	}
	return profile
}

// enterFunc puts the machine into a session.
type enterFunc func(ctx context.Context, s *Services, profile events.Profile) error

func runSession(cmd *cobra.Command, opts *rootOptions, flags *profileFlags, demo bool, enter enterFunc) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := setupStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	services, err := setupServices(ctx, cfg, st, demo)
	if err != nil {
		return err
	}
	defer services.Close()

	profile := flags.resolve(ctx, st)
	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	err = enter(callCtx, services, profile)
	cancel()
	if err != nil {
		return err
	}

	if cfg.StatusAddr != "" {
		server := setupStatusServer(cfg.StatusAddr, services.Machine)
		go func() {
			log.Info().Str("addr", server.Addr).Msg("status server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	con := &console{
		machine:    services.Machine,
		inviteBase: cfg.Invite.BaseURL,
		copyInvite: cfg.Invite.Copy,
		out:        cmd.OutOrStdout(),
	}
	_, _ = fmt.Fprintln(con.out, dimStyle.Render("type help for commands"))
	return con.run(ctx, cmd.InOrStdin(), services.Notices, services.Changes)
}

func createSession(ctx context.Context, s *Services, profile events.Profile) error {
	if err := s.Machine.Create(ctx, profile); err != nil {
		return err
	}
	con := &console{machine: s.Machine, inviteBase: s.Config.Invite.BaseURL, copyInvite: s.Config.Invite.Copy, out: os.Stdout}
	if err := con.invite(); err != nil {
		log.Warn().Err(err).Msg("could not build invite link")
	}
	return nil
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	flags := &profileFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session and facilitate it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, opts, flags, false, createSession)
		},
	}
	flags.register(cmd)
	return cmd
}

func newJoinCmd(opts *rootOptions) *cobra.Command {
	flags := &profileFlags{}
	cmd := &cobra.Command{
		Use:   "join <code|invite link>",
		Short: "Join a session by code or invite link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			if fromLink, ok := state.CodeFromLink(code); ok {
				code = fromLink
			}
			return runSession(cmd, opts, flags, false, func(ctx context.Context, s *Services, profile events.Profile) error {
				return s.Machine.Join(ctx, code, profile)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newRejoinCmd(opts *rootOptions) *cobra.Command {
	flags := &profileFlags{}
	return &cobra.Command{
		Use:   "rejoin",
		Short: "Rejoin the session saved by the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, opts, flags, false, func(ctx context.Context, s *Services, _ events.Profile) error {
				ptr, err := s.Store.LoadPointer(ctx)
				if err != nil {
					return err
				}
				if ptr == nil {
					return errors.New("no saved session to rejoin")
				}
				err = s.Machine.Rejoin(ctx, *ptr)
				if state.IsStale(err) {
					if ferr := s.Store.Forget(ctx); ferr != nil {
						log.Warn().Err(ferr).Msg("could not forget stale session")
					}
					return fmt.Errorf("session %s is no longer available", ptr.Code)
				}
				return err
			})
		},
	}
}

func newDemoCmd(opts *rootOptions) *cobra.Command {
	flags := &profileFlags{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Facilitate an offline session with simulated participants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, opts, flags, true, func(ctx context.Context, s *Services, profile events.Profile) error {
				return s.Machine.Create(ctx, profile)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newProfileCmd(opts *rootOptions) *cobra.Command {
	flags := &profileFlags{}
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the saved display name and emoji",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := setupStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			profile := flags.resolve(ctx, st)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", profile.Emoji, profile.Name)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var bots bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mock session service for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			hub := channel.NewHub()
			publishers := channel.Fanout{hub}
			if cfg.Serve.NATSURL != "" {
				natsCfg := channel.DefaultNATSConfig()
				natsCfg.URL = cfg.Serve.NATSURL
				natsCfg.Name = "estimate-mock"
				n, err := channel.NewNATS(natsCfg)
				if err != nil {
					return err
				}
				defer n.Close()
				publishers = append(publishers, n)
			}

			mockOpts := mockapi.Options{TimerSeconds: cfg.Demo.TimerSeconds}
			if bots {
				mockOpts.Bots = mockapi.DefaultBots()
			}
			svc := mockapi.New(publishers, mockOpts)

			server := &http.Server{
				Addr:              fmt.Sprintf(":%s", cfg.Serve.Port),
				Handler:           mockServerHandler(svc, hub),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			go func() {
				log.Info().Str("addr", server.Addr).Bool("bots", bots).Msg("mock session service starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("HTTP server failed")
				}
			}()

			// Wait for interrupt signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			sig := <-sigChan
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("HTTP server shutdown failed")
			}
			hub.DropAll()
			log.Info().Msg("mock session service stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&bots, "bots", false, "fill new sessions with simulated participants")
	return cmd
}
