package node

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/keygen"
	"go.dedis.ch/keygen/cli"
	"golang.org/x/xerrors"
)

// SocketName is the name of the unix socket created in the config folder.
const SocketName = "daemon.sock"

const ioTimeout = 30 * time.Second

// event is the JSON message written by the daemon to the client, either a line
// of output or the error that made the command fail.
type event struct {
	Err   bool
	Value string
}

// socketClient sends a command to a daemon through a unix socket.
//
// - implements node.Client
type socketClient struct {
	socketpath  string
	out         io.Writer
	dialTimeout time.Duration
	dialFn      func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// Send implements node.Client. It writes the command to the daemon and copies
// the output of the command until the daemon closes the connection.
func (c socketClient) Send(data []byte) error {
	conn, err := c.dialFn("unix", c.socketpath, c.dialTimeout)
	if err != nil {
		return xerrors.Errorf("couldn't open connection: %v", err)
	}

	defer conn.Close()

	_, err = conn.Write(data)
	if err != nil {
		return xerrors.Errorf("couldn't write to daemon: %v", err)
	}

	dec := json.NewDecoder(conn)

	for {
		var evt event

		err = dec.Decode(&evt)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("fail to decode event: %v", err)
		}

		if evt.Err {
			return xerrors.New(evt.Value)
		}

		fmt.Fprintln(c.out, evt.Value)
	}
}

// socketDaemon listens on a unix socket so that the access to the commands is
// controlled by the filesystem permissions.
//
// - implements node.Daemon
type socketDaemon struct {
	sync.WaitGroup

	logger      zerolog.Logger
	socketpath  string
	injector    Injector
	actions     *actionMap
	closing     chan struct{}
	readTimeout time.Duration
	listenFn    func(network, addr string) (net.Listener, error)
}

// Listen implements node.Daemon. It binds the socket and serves the incoming
// connections in the background.
func (d *socketDaemon) Listen() error {
	socket, err := d.listenFn("unix", d.socketpath)
	if err != nil {
		return xerrors.Errorf("couldn't bind socket: %v", err)
	}

	d.Add(2)

	go func() {
		defer d.Done()

		<-d.closing
		socket.Close()
	}()

	go func() {
		defer d.Done()

		for {
			conn, err := socket.Accept()
			if err != nil {
				select {
				case <-d.closing:
				default:
					d.logger.Err(err).Msg("daemon closed unexpectedly")
				}
				return
			}

			go d.handleConn(conn)
		}
	}()

	return nil
}

func (d *socketDaemon) handleConn(conn net.Conn) {
	defer conn.Close()

	header := make([]byte, 2)

	conn.SetReadDeadline(time.Now().Add(d.readTimeout))

	_, err := io.ReadFull(conn, header)
	if err == io.EOF {
		// Connectivity checks open and close the connection right away.
		return
	}
	if err != nil {
		d.sendError(conn, xerrors.Errorf("stream corrupted: %v", err))
		return
	}

	fset := make(FlagSet)

	err = json.NewDecoder(conn).Decode(&fset)
	if err != nil {
		d.sendError(conn, xerrors.Errorf("failed to decode flags: %v", err))
		return
	}

	id := binary.LittleEndian.Uint16(header)

	d.logger.Debug().
		Uint16("action", id).
		Str("flags", fmt.Sprintf("%v", fset)).
		Msg("received command")

	action := d.actions.Get(id)
	if action == nil {
		d.sendError(conn, xerrors.Errorf("unknown command '%d'", id))
		return
	}

	ctx := Context{
		Injector: d.injector,
		Flags:    fset,
		Out:      newClientWriter(conn),
	}

	err = action.Execute(ctx)
	if err != nil {
		d.sendError(conn, xerrors.Errorf("command error: %v", err))
	}
}

func (d *socketDaemon) sendError(conn net.Conn, err error) {
	d.logger.Debug().Err(err).Msg("sending error to client")

	err = json.NewEncoder(conn).Encode(event{Err: true, Value: err.Error()})
	if err != nil {
		d.logger.Warn().Err(err).Msg("connection to client has error")
	}
}

// Close implements node.Daemon. It closes the socket and waits for the
// background routines to return.
func (d *socketDaemon) Close() error {
	close(d.closing)
	d.Wait()

	return nil
}

// clientWriter wraps each write into an event sent to the client.
//
// - implements io.Writer
type clientWriter struct {
	enc *json.Encoder
}

func newClientWriter(w io.Writer) *clientWriter {
	return &clientWriter{
		enc: json.NewEncoder(w),
	}
}

// Write implements io.Writer.
func (w *clientWriter) Write(data []byte) (int, error) {
	err := w.enc.Encode(event{Value: string(data)})
	if err != nil {
		return 0, xerrors.Errorf("while packing data: %v", err)
	}

	return len(data), nil
}

// socketFactory creates the daemon and the clients from the CLI flags.
//
// - implements node.DaemonFactory
type socketFactory struct {
	injector Injector
	actions  *actionMap
	out      io.Writer
}

// ClientFromContext implements node.DaemonFactory.
func (f socketFactory) ClientFromContext(flags cli.Flags) (Client, error) {
	client := socketClient{
		socketpath:  f.getSocketPath(flags),
		out:         f.out,
		dialTimeout: ioTimeout,
		dialFn:      net.DialTimeout,
	}

	return client, nil
}

// DaemonFromContext implements node.DaemonFactory.
func (f socketFactory) DaemonFromContext(flags cli.Flags) (Daemon, error) {
	socketpath := f.getSocketPath(flags)

	daemon := &socketDaemon{
		logger:      keygen.Logger.With().Str("daemon", socketpath).Logger(),
		socketpath:  socketpath,
		injector:    f.injector,
		actions:     f.actions,
		closing:     make(chan struct{}),
		readTimeout: ioTimeout,
		listenFn:    net.Listen,
	}

	return daemon, nil
}

func (f socketFactory) getSocketPath(flags cli.Flags) string {
	return filepath.Join(flags.Path("config"), SocketName)
}
