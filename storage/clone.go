package storage

// Stores hand out copies so callers cannot mutate stored records.

// Clone returns a deep copy of c.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RedirectURIs = cloneStrings(c.RedirectURIs)
	cp.GrantTypes = cloneStrings(c.GrantTypes)
	cp.ResponseTypes = cloneStrings(c.ResponseTypes)
	cp.Scopes = cloneStrings(c.Scopes)
	return &cp
}

// Clone returns a deep copy of p.
func (p *PendingAuthorization) Clone() *PendingAuthorization {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Scopes = cloneStrings(p.Scopes)
	return &cp
}

// Clone returns a deep copy of a.
func (a *AuthorizationCode) Clone() *AuthorizationCode {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Scopes = cloneStrings(a.Scopes)
	return &cp
}

// Clone returns a deep copy of t.
func (t *AccessToken) Clone() *AccessToken {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Scopes = cloneStrings(t.Scopes)
	return &cp
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
