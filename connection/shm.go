package connection

import (
	"errors"
	"fmt"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/largedata"
	"github.com/opd-ai/jauscore/shm"
)

type enqueuer interface {
	Enqueue(s *jaus.Stream) (int, error)
}

// shmChannel sends into the destination's mailbox and receives replies on
// the local component's own inbox.
type shmChannel struct {
	out    enqueuer
	outbox *shm.Mailbox
	inbox  *shm.Mailbox
}

func (c *shmChannel) Send(s *jaus.Stream) (int, error) {
	return c.out.Enqueue(s)
}

func (c *shmChannel) Shutdown() error {
	return errors.Join(c.inbox.Close(), c.outbox.Close())
}

func (m *Manager) shmOptions() []shm.Option {
	return []shm.Option{
		shm.WithDir(m.opts.SHMDir),
		shm.WithPollInterval(m.opts.PollInterval),
		shm.WithMetrics(m.opts.Metrics),
	}
}

// connectSHM attaches to dest's inbox if it is being read and creates the
// local inbox that replies arrive on.
func (m *Manager) connectSHM(dest jaus.Address, cb jaus.Callback) (*shmChannel, error) {
	outbox, err := shm.OpenInbox(dest, m.shmOptions()...)
	if err != nil {
		return nil, err
	}
	if !outbox.IsActive(m.opts.ActiveThreshold) {
		outbox.Close()
		return nil, fmt.Errorf("mailbox %s is not being read", outbox.Name())
	}

	inbox, err := shm.CreateInbox(m.local, m.opts.MailboxSize, m.shmOptions()...)
	if err != nil {
		outbox.Close()
		return nil, err
	}
	if err := inbox.RegisterCallback(m.receiver(cb)); err != nil {
		inbox.Close()
		outbox.Close()
		return nil, err
	}

	ch := &shmChannel{out: outbox, outbox: outbox, inbox: inbox}
	if m.opts.AutoCollect {
		ch.out = shm.NewCollectingMailbox(outbox,
			largedata.WithTimeout(m.opts.ReassemblyTimeout),
			largedata.WithMetrics(m.opts.Metrics),
		)
	}
	return ch, nil
}
