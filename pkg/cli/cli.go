package cli

import (
	"context"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/vinylai/vinylai"
	"github.com/vinylai/vinylai/pkg/cmd/generate"
	"github.com/vinylai/vinylai/pkg/cmd/migrate"
	"github.com/vinylai/vinylai/pkg/cmd/render"
	"github.com/vinylai/vinylai/pkg/cmd/serve"
	"github.com/vinylai/vinylai/pkg/cmd/setting"
)

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("vinylai", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "vinylai [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newMigrateCommand(),
			newSettingCommand(),
			newServeCommand(),
			newGenerateCommand(),
			newRenderCommand(),
			newVideoCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "vinylai version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func newMigrateCommand() *ffcli.Command {
	cmd := "migrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &migrate.Config{}

	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("vinylai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("VINYLAI"),
		},
		ShortHelp: fmt.Sprintf("vinylai %s action", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return migrate.Run(ctx, cfg)
		},
	}
}

func newSettingCommand() *ffcli.Command {
	cmd := "setting"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &setting.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.Key, "key", "", "setting key (price, free-generations, max-duration)")
	fs.StringVar(&cfg.Value, "value", "", "value to set")
	fs.StringVar(&cfg.Description, "description", "", "setting description")
	fs.BoolVar(&cfg.List, "list", false, "list settings")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("vinylai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("VINYLAI"),
		},
		ShortHelp: fmt.Sprintf("vinylai %s action", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return setting.Run(ctx, cfg)
		},
	}
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &serve.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.FSType, "fs-type", "", "file storage type (local, s3, telegram)")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "file storage connection string")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy to use")
	fs.StringVar(&cfg.Addr, "addr", ":8080", "address to listen on")
	fs.StringVar(&cfg.KieHost, "kie-host", "", "kie ai host")
	fs.StringVar(&cfg.KieToken, "kie-token", "", "kie ai token")
	fs.StringVar(&cfg.OpenAIToken, "openai-token", "", "openai token for prompt enhancement")
	fs.StringVar(&cfg.TelegramToken, "telegram-token", "", "telegram bot token for notifications")
	fs.StringVar(&cfg.FFmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary")
	fs.StringVar(&cfg.Scratch, "scratch", "scratch", "scratch folder")
	fs.StringVar(&cfg.Output, "output", "generated", "output folder")
	fs.IntVar(&cfg.Concurrency, "concurrency", 2, "number of concurrent generations")
	fs.Var(&credentials{v: &cfg.Credentials}, "credentials", "user:password pairs for basic auth")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("vinylai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("VINYLAI"),
		},
		ShortHelp: fmt.Sprintf("vinylai %s command", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return serve.Serve(ctx, cfg)
		},
	}
}

func newGenerateCommand() *ffcli.Command {
	cmd := "generate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &generate.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "timeout for the process (0 means no timeout)")
	fs.IntVar(&cfg.Concurrency, "concurrency", 1, "number of concurrent processes")
	fs.IntVar(&cfg.Limit, "limit", 1, "limit the number iterations (0 means no limit)")
	fs.DurationVar(&cfg.WaitMin, "wait-min", 3*time.Second, "minimum wait time between generations")
	fs.DurationVar(&cfg.WaitMax, "wait-max", 1*time.Minute, "maximum wait time between generations")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy to use")
	fs.StringVar(&cfg.KieHost, "kie-host", "", "kie ai host")
	fs.StringVar(&cfg.KieToken, "kie-token", "", "kie ai token")
	fs.StringVar(&cfg.OpenAIToken, "openai-token", "", "openai token for prompt enhancement")
	fs.StringVar(&cfg.FFmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary")
	fs.StringVar(&cfg.Scratch, "scratch", "scratch", "scratch folder")
	fs.StringVar(&cfg.Output, "output", "generated", "output folder")
	fs.Int64Var(&cfg.ChatID, "chat-id", 0, "chat id that owns the generations")
	fs.StringVar(&cfg.Description, "description", "", "music description")
	fs.StringVar(&cfg.Image, "image", "", "cover image (url or local path)")
	fs.StringVar(&cfg.Input, "input", "", "csv or yaml with templates (fields: weight,description,image)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("vinylai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("VINYLAI"),
		},
		ShortHelp: fmt.Sprintf("vinylai %s command", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return generate.Run(ctx, cfg)
		},
	}
}

func newRenderCommand() *ffcli.Command {
	cmd := "render"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &render.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.FFmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary")
	fs.StringVar(&cfg.Audio, "audio", "", "audio file")
	fs.StringVar(&cfg.Image, "image", "", "cover image file")
	fs.StringVar(&cfg.Output, "output", "vinyl.mp4", "output video file")
	fs.DurationVar(&cfg.Duration, "duration", 30*time.Second, "target video duration")
	fs.IntVar(&cfg.Width, "width", 1080, "frame width")
	fs.IntVar(&cfg.Height, "height", 1080, "frame height")
	fs.IntVar(&cfg.FPS, "fps", 30, "frame rate")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("vinylai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("VINYLAI"),
		},
		ShortHelp: fmt.Sprintf("vinylai %s command", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return render.Run(ctx, cfg)
		},
	}
}

func newVideoCommand() *ffcli.Command {
	cmd := "video"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &vinylai.Config{}
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy")
	fs.DurationVar(&cfg.Wait, "wait", 1*time.Second, "wait time between api calls")
	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.KieHost, "kie-host", "", "kie ai host")
	fs.StringVar(&cfg.KieToken, "kie-token", "", "kie ai token")
	fs.StringVar(&cfg.FFmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary")

	var description, image, output string
	fs.StringVar(&description, "description", "", "music description")
	fs.StringVar(&image, "image", "", "cover image (url or local path)")
	fs.StringVar(&output, "output", "vinyl.mp4", "output video file")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("vinylai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("VINYLAI"),
		},
		ShortHelp: fmt.Sprintf("vinylai %s command", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			if description == "" {
				return fmt.Errorf("description is required")
			}
			return vinylai.GenerateVideo(ctx, cfg, description, image, output)
		},
	}
}

// credentials parses repeated user:password flag values into a map.
type credentials struct {
	v *map[string]string
}

func (c *credentials) String() string {
	if c.v == nil {
		return ""
	}
	var pairs []string
	for k := range *c.v {
		pairs = append(pairs, k+":***")
	}
	return strings.Join(pairs, ",")
}

func (c *credentials) Set(value string) error {
	split := strings.SplitN(value, ":", 2)
	if len(split) != 2 {
		return fmt.Errorf("invalid credentials %q", value)
	}
	if *c.v == nil {
		*c.v = map[string]string{}
	}
	(*c.v)[split[0]] = split[1]
	return nil
}
