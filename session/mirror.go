package session

import (
	"errors"

	"github.com/opd-ai/ovtransport/limits"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

// mirrorTask forwards one loopback port on a fixed channel.
type mirrorTask struct {
	sock    *transport.Socket
	channel transport.Channel
	started bool
}

// mirrorPool owns the receiver port tasks of a session. Tasks share the
// session wait group so Close waits for them too.
type mirrorPool struct {
	s     *Session
	tasks []*mirrorTask
}

func newMirrorPool(s *Session) *mirrorPool {
	return &mirrorPool{s: s}
}

// add binds src and starts the task if the session runs.
func (p *mirrorPool) add(src, dest uint16) error {
	sock, err := transport.Listen(src, true, p.s.opts.MirrorTimeout)
	if err != nil {
		return err
	}

	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if p.s.closed {
		sock.Close()
		return ErrClosed
	}

	t := &mirrorTask{sock: sock, channel: transport.Channel(dest)}
	p.tasks = append(p.tasks, t)

	logrus.WithFields(logrus.Fields{
		"function": "mirrorPool.add",
		"src":      sock.Port(),
		"channel":  dest,
	}).Info("Receiver port added")

	if p.s.running.Load() {
		p.start(t)
	}
	return nil
}

// startAll launches tasks added before Start. Callers hold the session mutex.
func (p *mirrorPool) startAll() {
	for _, t := range p.tasks {
		if !t.started {
			p.start(t)
		}
	}
}

func (p *mirrorPool) start(t *mirrorTask) {
	t.started = true
	p.s.wg.Add(1)
	go p.run(t)
}

// run forwards without proxy fan-out.
func (p *mirrorPool) run(t *mirrorTask) {
	defer p.s.wg.Done()

	buf := make([]byte, limits.MaxDatagram)
	for p.s.running.Load() {
		n, _, err := t.sock.Receive(buf)
		if err != nil {
			if p.s.receiveFailed("mirror", err) {
				return
			}
			continue
		}
		p.s.send(t.channel, buf[:n], false)
	}
}

// close releases all task sockets. The tasks must have exited.
func (p *mirrorPool) close() error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	var errs []error
	for _, t := range p.tasks {
		errs = append(errs, t.sock.Close())
	}
	p.tasks = nil
	return errors.Join(errs...)
}

func (p *mirrorPool) ports() []uint16 {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	ports := make([]uint16, 0, len(p.tasks))
	for _, t := range p.tasks {
		ports = append(ports, t.sock.Port())
	}
	return ports
}
