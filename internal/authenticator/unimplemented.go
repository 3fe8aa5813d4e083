package authenticator

// UnimplementedBackend documents the shape of a real PAM-backed
// Backend without calling into libpam: every method returns
// ErrTransient. Wiring an actual PAM binding is outside this repo's
// boundary; swap this out for a cgo implementation of Backend to run
// against a real account database.
type UnimplementedBackend struct{}

func (UnimplementedBackend) Backend() Backend {
	return Backend{
		Authenticate: func(string, Conversation) (string, error) {
			return "", ErrTransient
		},
		AcctManagement: func(string) (AcctStatus, error) {
			return AcctError, ErrTransient
		},
		ChangeAuthToken: func(string, Conversation) error {
			return ErrTransient
		},
		GetenvList: func() map[string]string {
			return nil
		},
		OpenSession: func(string) error {
			return ErrTransient
		},
		CloseSession: func(string) error {
			return ErrTransient
		},
	}
}
