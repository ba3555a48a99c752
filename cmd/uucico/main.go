// Command uucico is the CLI front end for the 'i' protocol and its
// UUCP session layer: it opens a byte port (a real serial line or, for
// local testing, a pseudo-terminal pair), negotiates the link, and
// either sends the files named on the command line as master or
// services the peer's requests as slave.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/uucpi/uucpi/link"
	"github.com/uucpi/uucpi/port"
	"github.com/uucpi/uucpi/session"
)

var (
	device  = flag.String("d", "", "serial device to open (empty: spawn a local loopback pty pair for testing)")
	baud    = flag.Int("baud", 38400, "serial baud rate")
	caller  = flag.Bool("caller", false, "act as the caller (link layer role; exactly one side must set this)")
	master  = flag.Bool("master", false, "act as master (session layer role; drives the outbound work queue)")
	verbose = flag.Bool("v", false, "verbose logging")
	watch   = flag.Bool("watch", false, "if stdin is a terminal, put it in raw mode and dump link stats on 's', quit on 'q'")
	window  = flag.Int("window", 16, "advertised receive window")
	packet  = flag.Int("packetsize", 1024, "advertised packet size")
	version = flag.Bool("version", false, "print version and exit")
)

const versionString = "uucico 0.1.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Println(versionString)
		return
	}

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := signalContext(sigChan)
	defer cancel()

	p, closeFn, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "uucico: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	lnk := link.New(p, nil, *caller,
		link.WithWindow(*window),
		link.WithPacketSize(*packet),
		link.WithLogger(link.NewLogrusLogger(logger)),
	)

	sess := session.New(lnk, *master,
		session.WithLogger(link.NewLogrusLogger(logger)),
		session.WithCallbacks(defaultCallbacks(logger)),
	)
	lnk.SetSink(sess)

	if err := lnk.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "uucico: startup failed: %v\n", err)
		os.Exit(1)
	}

	if *watch {
		if stop, err := watchTerminal(ctx, cancel, lnk, logger); err != nil {
			logger.Warnf("watch: %v", err)
		} else {
			defer stop()
		}
	}

	files := flag.Args()

	if *master {
		if err := runMaster(ctx, sess, files); err != nil {
			fmt.Fprintf(os.Stderr, "uucico: %v\n", err)
			os.Exit(1)
		}
		lnk.Shutdown(ctx)
		return
	}

	if err := runSlave(ctx, sess); err != nil {
		fmt.Fprintf(os.Stderr, "uucico: %v\n", err)
		os.Exit(1)
	}
	lnk.Shutdown(ctx)
}

func runMaster(ctx context.Context, sess *session.Session, files []string) error {
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "uucico: skipping %s: %v\n", f, err)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "uucico: skipping %s: %v\n", f, err)
			continue
		}
		t := &session.Transfer{
			Role:       session.RoleSender,
			LocalFile:  abs,
			RemoteFile: filepath.Base(abs),
			User:       currentUser(),
			Size:       info.Size(),
			Mode:       info.Mode(),
		}
		if err := sendOne(ctx, sess, t); err != nil {
			fmt.Fprintf(os.Stderr, "uucico: send %s failed: %v\n", f, err)
		}
	}

	done, err := sess.Hangup(ctx)
	if err != nil {
		return err
	}
	for !done {
		if err := runSlaveOnce(ctx, sess); err != nil {
			return err
		}
		done, err = sess.Hangup(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func sendOne(ctx context.Context, sess *session.Session, t *session.Transfer) error {
	outcome, err := sess.RequestSend(ctx, t)
	if err != nil {
		return err
	}
	switch outcome {
	case session.OutcomeAccepted:
		fio := session.DefaultFileIO()
		r, _, err := fio.Open(t.LocalFile)
		if err != nil {
			return err
		}
		defer r.Close()
		return sess.PerformSend(ctx, t, r)
	case session.OutcomeRetry:
		return session.NewError(session.ErrRejected, "peer asked to retry later")
	default:
		return session.NewError(session.ErrRejected, "peer declined the file")
	}
}

func runSlave(ctx context.Context, sess *session.Session) error {
	for {
		done, err := runSlaveIteration(ctx, sess)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func runSlaveOnce(ctx context.Context, sess *session.Session) error {
	_, err := runSlaveIteration(ctx, sess)
	return err
}

func runSlaveIteration(ctx context.Context, sess *session.Session) (bool, error) {
	cmd, err := sess.GetCmd(ctx)
	if err != nil {
		return false, err
	}
	switch cmd.Verb {
	case session.VerbSend:
		return false, sess.HandleSendRequest(ctx, cmd)

	case session.VerbReceive:
		return false, sess.HandleReceiveRequest(ctx, cmd)

	case session.VerbHangup:
		done, err := sess.HandleHangup(ctx)
		return done, err

	case session.VerbExec:
		return false, sess.HandleExecRequest(ctx, cmd)

	default:
		return false, sess.SendCommand(ctx, session.Command{Verb: session.VerbCompleteError})
	}
}

func openPort() (link.Port, func() error, error) {
	if *device == "" {
		p, slave, err := port.OpenPTYPair()
		if err != nil {
			return nil, nil, err
		}
		return p, func() error { slave.Close(); return p.Close() }, nil
	}
	p, err := port.OpenSerial(*device, *baud)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

func defaultCallbacks(logger *logrus.Logger) *session.Callbacks {
	return &session.Callbacks{
		OnProgress: func(t *session.Transfer) {
			logger.Debugf("progress %s: sent=%d received=%d", t.LocalFile, t.BytesSent, t.BytesReceived)
		},
		OnTransferComplete: func(t *session.Transfer, d time.Duration) {
			logger.Infof("transfer complete: %s in %v", t.LocalFile, d)
		},
		OnError: func(err error, ctx string) bool {
			logger.Errorf("%s: %v", ctx, err)
			return false
		},
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// watchTerminal puts the controlling terminal in raw mode and runs a
// tiny keypress loop so an operator sitting at stdin can dump live
// link stats ('s') or ask for a clean shutdown ('q') without a real
// serial line's control bytes fighting with line discipline. It is a
// no-op if stdin isn't a terminal. The returned stop func restores the
// prior terminal state and must be called before the process exits.
func watchTerminal(ctx context.Context, cancel context.CancelFunc, lnk *link.Link, logger *logrus.Logger) (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil || n == 0 {
				return
			}
			switch buf[0] {
			case 's':
				stats := lnk.Stats()
				logger.Infof("stats: sent=%d recv=%d resent=%d badhdr=%d badcksum=%d",
					stats.Sent, stats.Received, stats.Resent, stats.BadHeader, stats.BadChecksum)
			case 'q', 0x03:
				cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()

	return func() {
		term.Restore(fd, oldState)
	}, nil
}

func signalContext(sigChan chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}
