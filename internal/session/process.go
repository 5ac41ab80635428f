package session

import (
	"termplex/internal/shell"
	"termplex/internal/store"
	"termplex/internal/supervisor"
)

// Supervisor launches children and drives their callbacks.
type Supervisor interface {
	Launch(spec supervisor.SpawnSpec, cb supervisor.Callbacks) error
}

// SocketCallbacks are invoked by the push server for one handle, from its
// own goroutines.
type SocketCallbacks struct {
	OnReceivedInput    func(input string)
	OnConnectionOpened func()
	OnConnectionClosed func()
}

// PushServer is the shared, lazily started push channel server.
type PushServer interface {
	EnsureServerRunning() error
	Port() int
	Listen(handle string, cb SocketCallbacks)
	StopListening(handle string)
	SendText(handle, text string) error
}

// ShellResolver finds shell executables.
type ShellResolver interface {
	Resolve(t shell.Type) (shell.Shell, bool)
	SystemDefault() (shell.Shell, bool)
}

// RecordStore persists session records.
type RecordStore interface {
	NewInfo() *store.Info
	SaveAll(infos []*store.Info) error
	LoadAll() ([]*store.Info, error)
	Delete(handle string) error
}

// PromptHandler gets first refusal on a detected prompt. Returning handled
// with a non-empty response queues it as input; handled with an empty
// response terminates the process.
type PromptHandler func(prompt string) (response Input, handled bool)
