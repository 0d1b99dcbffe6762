package data

import (
	"time"

	"RelayPool/internal/conf"
	"RelayPool/pkg/httpclient"
	"RelayPool/pkg/mail"
	"RelayPool/pkg/register"

	"github.com/go-kratos/kratos/v2/log"
)

// collaboratorTimeout bounds individual HTTP calls to the provisioning
// collaborators. Whole-unit pacing is enforced by the provisioner's unit
// timeout.
const collaboratorTimeout = 30 * time.Second

// NewMailClient creates the throwaway-mailbox client used by provisioning.
func NewMailClient(pc *conf.Provision, logger log.Logger) (*mail.Client, error) {
	httpClient, err := httpclient.New("", collaboratorTimeout)
	if err != nil {
		return nil, err
	}
	return mail.NewClient(pc.MailApiUrl, pc.MailApiKey, httpClient, logger), nil
}

// NewRegisterClient creates the registration-flow client used by
// provisioning.
func NewRegisterClient(pc *conf.Provision, mailClient *mail.Client, logger log.Logger) (*register.Client, error) {
	httpClient, err := httpclient.New("", collaboratorTimeout)
	if err != nil {
		return nil, err
	}
	return register.NewClient(pc.RegisterApiUrl, httpClient, mailClient, logger), nil
}
