package authenticator

// ScriptedBackend is an in-memory Backend substitute for tests: it
// answers Authenticate conversations from a fixed script of expected
// prompt replies and reports a canned outcome, without touching any
// real credential store.
type ScriptedBackend struct {
	// CorrectPassword, when non-empty, makes Authenticate succeed only
	// when the conversation's reply to the first PromptNoEcho equals
	// this value. Leave empty to always succeed.
	CorrectPassword string
	// Identity is the authenticated username Authenticate reports;
	// empty means the requested target user.
	Identity string
	Acct     AcctStatus
	Env      map[string]string
}

// Backend adapts the script into the Backend function-table shape
// Authenticator drives.
func (s *ScriptedBackend) Backend() Backend {
	return Backend{
		Authenticate: s.authenticate,
		AcctManagement: func(string) (AcctStatus, error) {
			return s.Acct, nil
		},
		ChangeAuthToken: func(_ string, conv Conversation) error {
			_, err := conv(Message{Kind: PromptNoEcho, Text: "New password: "})
			return err
		},
		GetenvList: func() map[string]string {
			return s.Env
		},
		OpenSession:  func(string) error { return nil },
		CloseSession: func(string) error { return nil },
	}
}

func (s *ScriptedBackend) authenticate(target string, conv Conversation) (string, error) {
	reply, err := conv(Message{Kind: PromptNoEcho, Text: "Password: "})
	if err != nil {
		return "", err
	}
	if s.CorrectPassword != "" && reply.Text != s.CorrectPassword {
		return "", ErrDenied
	}
	if s.Identity == "" {
		return target, nil
	}
	return s.Identity, nil
}
