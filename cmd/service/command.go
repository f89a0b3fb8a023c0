package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	v1 "github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1"
	"github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1/process"
	"github.com/jhjames1/leap-grit-forge-sub004/cmd/service/handler"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/calendar"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

type Options struct {
	ConfigPath string
}

func (o *Options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.ConfigPath, "config", "c", "", "init api by given config")
}

func NewCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "service",
		Short: "support session service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(opts)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func Run(opts *Options) error {
	app := core.MustSetupCore(core.MustLoadBaseConfig(opts.ConfigPath))

	machine, orchestrators, presence := setupLogic(app)
	proc := process.NewProcess(app, presence)
	if err := proc.Start(); err != nil {
		return err
	}

	serve(app, machine, orchestrators, presence, proc)
	return nil
}

func setupLogic(app *core.Core) (*v1.SessionStateMachine, *v1.OrchestratorManager, *v1.PresenceResolver) {
	machine := v1.NewSessionStateMachine(
		app.Store().SupportSessionStore(),
		app.Store().SessionAuditStore(),
		app.Store(),
		app.Srv().Tower(),
	)

	orchestrators := v1.NewOrchestratorManager(app)

	presenceCfg := app.Cfg().Presence
	workingHours, err := calendar.NewWorkingHours(presenceCfg.WorkStart, presenceCfg.WorkEnd, presenceCfg.Timezone)
	if err != nil {
		panic(err)
	}
	presence := v1.NewPresenceResolver(
		app.Store().SpecialistStatusStore(),
		workingHours,
		v1.PresenceResolverConfig{
			Tick:             presenceCfg.Tick(),
			CalendarDebounce: presenceCfg.CalendarDebounce(),
			WriteDebounce:    presenceCfg.WriteDebounce(),
		},
		func(source types.PresenceSource) {
			app.Metrics().PresenceWriteInc(string(source))
		},
	)

	return machine, orchestrators, presence
}

func serve(app *core.Core, machine *v1.SessionStateMachine, orchestrators *v1.OrchestratorManager, presence *v1.PresenceResolver, proc *process.Process) {
	httpSrv := &handler.HttpSrv{
		Core:          app,
		Engine:        app.HttpEngine(),
		Machine:       machine,
		Orchestrators: orchestrators,
		Presence:      presence,
	}
	setupHttpRouter(httpSrv)

	server := &http.Server{
		Addr:    app.Cfg().Addr,
		Handler: app.HttpEngine(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", slog.String("error", err.Error()))
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = server.Shutdown(ctx)
	proc.Stop()
	orchestrators.Close()
	// best-effort offline write for every specialist this node tracked
	presence.Shutdown(ctx)
}

func NewProcessCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "process",
		Short: "process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunProcess(opts)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// RunProcess hosts only the periodic work (presence ticks and the stale
// session sweep), no HTTP surface.
func RunProcess(opts *Options) error {
	app := core.MustSetupCore(core.MustLoadBaseConfig(opts.ConfigPath))

	_, _, presence := setupLogic(app)
	proc := process.NewProcess(app, presence)
	if err := proc.Start(); err != nil {
		return err
	}

	fmt.Println("Process starting...")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	proc.Stop()
	presence.Shutdown(ctx)
	return nil
}
