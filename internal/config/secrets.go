package config

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
)

// Default secrets locations: the mounted volume in deployment, the local
// directory during development.
var secretPaths = []string{
	"/secrets/app/secrets.json",
	"./secrets/secrets.json",
}

// Secrets holds the credentials the skid cannot run without.
type Secrets struct {
	SendGridAPIKey string `json:"sendgrid_api_key"`
	AGOLUser       string `json:"agol_user"`
	AGOLPassword   string `json:"agol_password"`
}

// LoadSecrets reads the first secrets file that exists. Missing everywhere
// is fatal before any work starts.
func LoadSecrets() (*Secrets, error) {
	return loadSecretsFrom(secretPaths)
}

func loadSecretsFrom(paths []string) (*Secrets, error) {
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, eris.Wrapf(err, "config: read secrets %s", path)
		}

		var s Secrets
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, eris.Wrapf(err, "config: parse secrets %s", path)
		}
		if s.SendGridAPIKey == "" || s.AGOLUser == "" || s.AGOLPassword == "" {
			return nil, eris.Errorf("config: secrets %s is missing required keys", path)
		}
		return &s, nil
	}
	return nil, eris.New("config: no secrets file found")
}
