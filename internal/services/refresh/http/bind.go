package http

import (
	stdhttp "net/http"

	"curator/internal/platform/net/http/bind"
	"curator/internal/services/refresh/domain"
)

// credential bodies are tiny, anything larger is not a registration
const maxRegistrationBytes = 4 << 10

func bindRegistration(r *stdhttp.Request) (domain.CredentialRegistration, error) {
	return bind.JSON[domain.CredentialRegistration](r, bind.Options{MaxBytes: maxRegistrationBytes})
}
