package pgconn

import "fmt"

// Listen subscribes the connection to a NOTIFY channel ("LISTEN
// <channel>"). Payloads arrive on Notifications(), delivered only
// between query boundaries (the server only sends NotificationResponse
// while the connection is otherwise idle or between Extended Query
// round trips), per spec.md's design notes on notification buffering.
func (c *Conn) Listen(channel string) error {
	_, err := c.QuerySimple(fmt.Sprintf("LISTEN %s", quoteIdent(channel)))
	return err
}

// Unlisten cancels a prior Listen.
func (c *Conn) Unlisten(channel string) error {
	_, err := c.QuerySimple(fmt.Sprintf("UNLISTEN %s", quoteIdent(channel)))
	return err
}

// Notify sends a NOTIFY on channel with an optional payload string.
func (c *Conn) Notify(channel, payload string) error {
	if payload == "" {
		_, err := c.QuerySimple(fmt.Sprintf("NOTIFY %s", quoteIdent(channel)))
		return err
	}
	_, err := c.Exec("SELECT pg_notify($1, $2)", Text(channel), Text(payload))
	return err
}
