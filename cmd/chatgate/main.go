// Command chatgate runs the admission-control and quota service.
//
// Usage:
//
//	chatgate serve --config config.yaml
//	chatgate migrate
//	chatgate user create --email admin@example.com --plan Enterprise --admin
//	chatgate token issue --id 1
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/router-for-me/chatgate/internal/app"
	"github.com/router-for-me/chatgate/internal/config"
	"github.com/router-for-me/chatgate/internal/plans"
	log "github.com/sirupsen/logrus"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP gateway."`
	Migrate MigrateCmd `cmd:"" help:"Create or update database tables."`
	User    UserCmd    `cmd:"" help:"Manage user accounts."`
	Token   TokenCmd   `cmd:"" help:"Issue bearer tokens."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config string `short:"c" help:"Path to config file." env:"CHATGATE_CONFIG" type:"path"`
}

func (c *CLI) appConfig() config.AppConfig {
	return config.AppConfig{ConfigPath: c.Config}
}

// ServeCmd starts the gateway.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.RunServer(ctx, cli.appConfig())
}

// MigrateCmd runs schema migrations.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(cli *CLI) error {
	if err := app.Migrate(context.Background(), cli.appConfig()); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

// UserCmd groups account subcommands.
type UserCmd struct {
	Create  UserCreateCmd  `cmd:"" help:"Create a user."`
	Promote UserPromoteCmd `cmd:"" help:"Grant the admin role to a user."`
}

// UserCreateCmd creates an account.
type UserCreateCmd struct {
	Email string `required:"" help:"Account email."`
	Name  string `help:"Display name."`
	Plan  string `default:"Free" help:"Plan name."`
	Admin bool   `help:"Create the account as an administrator."`
}

func (c *UserCreateCmd) Run(cli *CLI) error {
	user, err := app.CreateUser(context.Background(), cli.appConfig(), app.CreateUserParams{
		Email: c.Email,
		Name:  c.Name,
		Plan:  c.Plan,
		Admin: c.Admin,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created user id=%d email=%s plan=%s limit=%d admin=%t\n",
		user.ID, user.Email, user.Plan, user.MessagesLimit, user.IsAdmin)
	return nil
}

// UserPromoteCmd bootstraps an administrator.
type UserPromoteCmd struct {
	ID uint64 `required:"" help:"User ID."`
}

func (c *UserPromoteCmd) Run(cli *CLI) error {
	if err := app.PromoteUser(context.Background(), cli.appConfig(), c.ID); err != nil {
		return err
	}
	fmt.Printf("user %d is now an admin\n", c.ID)
	return nil
}

// TokenCmd groups token subcommands.
type TokenCmd struct {
	Issue TokenIssueCmd `cmd:"" help:"Sign a bearer token for a user."`
}

// TokenIssueCmd signs a token.
type TokenIssueCmd struct {
	ID uint64 `required:"" help:"User ID."`
}

func (c *TokenIssueCmd) Run(cli *CLI) error {
	token, err := app.IssueToken(context.Background(), cli.appConfig(), c.ID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("chatgate %s\n", version)
	return nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Warn("failed to load .env")
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("chatgate"),
		kong.Description("Rate limiting, IP reputation and quota accounting for a chat service.\nPlans: "+fmt.Sprint(plans.Default().Names())),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	if err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
