package pgconn

import "fmt"

// Begin starts a transaction block ("BEGIN").
func (c *Conn) Begin() error {
	_, err := c.QuerySimple("BEGIN")
	return err
}

// Commit ends the current transaction block ("COMMIT").
func (c *Conn) Commit() error {
	_, err := c.QuerySimple("COMMIT")
	return err
}

// Rollback aborts the current transaction block ("ROLLBACK").
func (c *Conn) Rollback() error {
	_, err := c.QuerySimple("ROLLBACK")
	return err
}

// Savepoint establishes a named savepoint within the current
// transaction.
func (c *Conn) Savepoint(name string) error {
	_, err := c.QuerySimple(fmt.Sprintf("SAVEPOINT %s", quoteIdent(name)))
	return err
}

// RollbackToSavepoint rolls the transaction back to a previously
// established savepoint without ending the transaction.
func (c *Conn) RollbackToSavepoint(name string) error {
	_, err := c.QuerySimple(fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", quoteIdent(name)))
	return err
}

// ReleaseSavepoint destroys a previously established savepoint.
func (c *Conn) ReleaseSavepoint(name string) error {
	_, err := c.QuerySimple(fmt.Sprintf("RELEASE SAVEPOINT %s", quoteIdent(name)))
	return err
}

// quoteIdent double-quotes an identifier and escapes embedded quotes,
// since savepoint names cannot be bound as Extended Query parameters
// (they are syntax, not values).
func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, name[i])
	}
	out = append(out, '"')
	return string(out)
}
