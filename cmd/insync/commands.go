package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/nhle/insync/internal/api"
	"github.com/nhle/insync/internal/app"
	"github.com/nhle/insync/internal/model"
	appsync "github.com/nhle/insync/internal/sync"
)

func (a *application) runUI() error {
	m := app.New(app.Deps{
		Session:    a.session,
		API:        a.client,
		Pipeline:   a.pipeline,
		Reconciler: a.reconciler,
		Log:        a.log,
	})
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (a *application) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("u", "", "username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("login: -u is required")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	if err := a.session.Login(ctx, a.client, *username, string(pw)); err != nil {
		return errors.New(api.Message(err))
	}
	user, err := a.session.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n", user.DisplayName())
	return nil
}

// setHost saves host as api.host in the config file at path.
func setHost(cfg *model.AppConfig, path string, args []string) error {
	if len(args) != 1 {
		return errors.New("host: expected exactly one HOST argument")
	}
	cfg.API.Host = strings.TrimSpace(args[0])
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := model.SaveConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Using %s\n", cfg.API.BaseURL())
	return nil
}

func (a *application) logout() error {
	if err := a.session.Logout(); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func (a *application) status(ctx context.Context) error {
	// Reporting only; an expired token is left for the next sign-in.
	if !a.session.Valid() {
		fmt.Println("Not signed in")
		return nil
	}
	user, err := a.session.CurrentUser(ctx)
	if err != nil {
		return err
	}
	count, err := a.reconciler.UnreadCount(ctx, a.session.Identity())
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s, %d unread\n", user.DisplayName(), count)
	return nil
}

// watch runs the pipeline without a UI and logs what it reports.
func (a *application) watch(ctx context.Context) error {
	if err := a.session.Authorize(); err != nil {
		return errors.New("not signed in; run insync login first")
	}
	userID := a.session.Identity()
	a.pipeline.Start(userID)
	a.log.Info("watching notifications", zap.String("user_id", userID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.pipeline.Results():
			switch msg := msg.(type) {
			case appsync.NotificationMsg:
				a.log.Info("new notification",
					zap.String("id", msg.Notification.ID),
					zap.String("event_type", string(msg.Notification.EventType)),
					zap.String("workspace", msg.Notification.WorkspaceName),
					zap.String("task", msg.Notification.TaskName),
					zap.Int("unread", msg.Count),
				)
			case appsync.UnreadMsg:
				a.log.Info("unread refreshed", zap.Int("unread", msg.Count))
			case appsync.ChannelStateMsg:
				a.log.Info("channel state", zap.Stringer("state", msg.State))
			case appsync.ErrorMsg:
				if msg.Unauthenticated {
					return errors.New("session rejected by the server; run insync login")
				}
				a.log.Warn("pipeline error", zap.Error(msg.Err))
			}
		}
	}
}
