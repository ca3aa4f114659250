package ansible

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	sshPort          = "22"
	dialTimeout      = 5 * time.Second
	preflightBackoff = 2 * time.Second
)

// WaitForHosts blocks until every host accepts SSH connections or the
// timeout elapses. A host that answers the SSH handshake but rejects the
// throwaway credentials counts as reachable: ansible will authenticate with
// its own key material.
func (r *Runner) WaitForHosts(ctx context.Context, hosts []string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errs := make([]error, len(hosts))
	var wg sync.WaitGroup
	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			errs[i] = r.waitForHost(ctx, host)
		}(i, host)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("host %s not reachable: %w", hosts[i], err)
		}
	}
	return nil
}

func (r *Runner) waitForHost(ctx context.Context, host string) error {
	user := r.cfg.SSHUser
	if user == "" {
		user = "root"
	}
	cfg := &ssh.ClientConfig{
		User: user,
		// Provisioned hosts have fresh, unknown host keys.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	address := net.JoinHostPort(host, sshPort)
	var lastErr error
	for {
		client, err := ssh.Dial("tcp", address, cfg)
		if err == nil {
			_ = client.Close()
			return nil
		}
		if isAuthError(err) {
			// sshd answered, the host is up.
			return nil
		}
		lastErr = err
		r.log.WithField("host", host).WithError(err).Debug("host not ready yet")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last attempt: %s)", ctx.Err(), lastErr)
		case <-time.After(preflightBackoff):
		}
	}
}

// isAuthError distinguishes "sshd is up but rejected us" from connection
// failures. x/crypto/ssh does not expose a typed error for this.
func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}
