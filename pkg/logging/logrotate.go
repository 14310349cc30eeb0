package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for zinitctl %[1]s
# Install: sudo cp this file to /etc/logrotate.d/zinitctl-%[1]s

%[2]s/%[1]s/*.log {
    weekly
    rotate 8
    compress
    delaycompress
    missingok
    notifempty
    copytruncate
}
`, component, DefaultLogDir)
}
