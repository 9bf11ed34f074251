// Package applauncher composes the long-running pieces of casecore (HTTP/WS
// server, RabbitMQ workers, the reconciliation scheduler) into one process.
// Grounded on the teacher's common/app.go Launcher.
package applauncher

import (
	"sync"

	"github.com/caseledger/casecore/pkg/mlog"
)

// App is anything that runs until the process shuts down.
type App interface {
	Run(launcher *Launcher) error
}

// Option configures a Launcher.
type Option func(l *Launcher)

// WithLogger attaches a logger to the launcher.
func WithLogger(logger mlog.Logger) Option {
	return func(l *Launcher) { l.Logger = logger }
}

// RunApp registers a named App to be started when the launcher runs.
func RunApp(name string, app App) Option {
	return func(l *Launcher) { l.apps[name] = app }
}

// Launcher starts every registered App in its own goroutine and blocks until
// all of them return.
type Launcher struct {
	Logger mlog.Logger
	apps   map[string]App
	wg     sync.WaitGroup
}

// New builds a Launcher from the given options.
func New(opts ...Option) *Launcher {
	l := &Launcher{apps: make(map[string]App)}

	for _, opt := range opts {
		opt(l)
	}

	if l.Logger == nil {
		l.Logger = &mlog.NoneLogger{}
	}

	return l
}

// Run starts every registered app and waits for all of them to finish.
func (l *Launcher) Run() {
	l.wg.Add(len(l.apps))

	l.Logger.Infof("launcher: starting %d app(s)", len(l.apps))

	for name, app := range l.apps {
		go func(name string, app App) {
			defer l.wg.Done()

			l.Logger.Infof("launcher: app %q starting", name)

			if err := app.Run(l); err != nil {
				l.Logger.Errorf("launcher: app %q exited with error: %v", name, err)
			}

			l.Logger.Infof("launcher: app %q finished", name)
		}(name, app)
	}

	l.wg.Wait()

	l.Logger.Info("launcher: terminated")
}
