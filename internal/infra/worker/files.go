package worker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/synzen/Discord.RSS/internal/infra/notifier"
	"github.com/synzen/Discord.RSS/internal/usecase/poll"
)

// scheduleFile is the on-disk shape of the custom schedule declaration.
//
//	schedules:
//	  - name: news
//	    refreshIntervalMinutes: 2
//	    keywords: ["news", "headlines"]
type scheduleFile struct {
	Schedules []poll.ScheduleConfig `yaml:"schedules"`
}

// LoadSchedules reads the custom schedule declarations from a YAML file.
// An empty path means no custom schedules.
func LoadSchedules(path string) ([]poll.ScheduleConfig, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedules file %s: %w", path, err)
	}

	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schedules file %s: %w", path, err)
	}
	return file.Schedules, nil
}

// webhookFile maps destination channel IDs to webhook URLs.
//
//	webhooks:
//	  "123456789": "https://discord.com/api/webhooks/..."
type webhookFile struct {
	Webhooks map[string]string `yaml:"webhooks"`
}

// LoadWebhookDirectory reads the channel-to-webhook mapping from a YAML
// file. An empty path yields an empty directory.
func LoadWebhookDirectory(path string) (notifier.StaticDirectory, error) {
	if path == "" {
		return notifier.StaticDirectory{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read webhooks file %s: %w", path, err)
	}

	var file webhookFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse webhooks file %s: %w", path, err)
	}
	return notifier.StaticDirectory(file.Webhooks), nil
}
