package learning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ImportFile is the YAML layout accepted by bulk imports.
type ImportFile struct {
	Subject string    `yaml:"subject"`
	Topic   string    `yaml:"topic"`
	Items   []NewItem `yaml:"items"`
}

// LoadImportFile reads items from a YAML file. File-level subject and
// topic fill in items that leave them empty.
func LoadImportFile(path string) ([]NewItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(%s) > %w", path, err)
	}

	var file ImportFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("yaml.Unmarshal(%s) > %w", path, err)
	}

	items := make([]NewItem, 0, len(file.Items))
	for _, item := range file.Items {
		if item.Subject == "" {
			item.Subject = file.Subject
		}
		if item.Topic == "" {
			item.Topic = file.Topic
		}
		items = append(items, item)
	}
	return items, nil
}
