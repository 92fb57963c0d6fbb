package daemonlifecycle

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"
)

// ServiceSpec describes the unit this package generates a platform service
// definition for. Installation itself (copying the file into the platform's
// service directory and invoking systemctl/launchctl/schtasks) is an
// external concern per spec §4.9 ("only the unit-file generation contract
// matters here"); this package only renders the file content.
type ServiceSpec struct {
	Label      string // reverse-DNS-ish identifier, e.g. "ai.agentd.daemon"
	BinaryPath string
	Args       []string
}

var launchdTemplate = template.Must(template.New("launchd").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.BinaryPath}}</string>
{{- range .Args}}
		<string>{{.}}</string>
{{- end}}
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`))

// xmlEscapedSpec escapes every user-controlled string field so the
// generated plist can't be corrupted by a path containing "&", "<", etc.
type xmlEscapedSpec struct {
	Label      string
	BinaryPath string
	Args       []string
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// GenerateLaunchd renders a macOS launchd user-agent plist.
func GenerateLaunchd(spec ServiceSpec) (string, error) {
	escaped := xmlEscapedSpec{
		Label:      escapeXML(spec.Label),
		BinaryPath: escapeXML(spec.BinaryPath),
	}
	for _, a := range spec.Args {
		escaped.Args = append(escaped.Args, escapeXML(a))
	}

	var buf bytes.Buffer
	if err := launchdTemplate.Execute(&buf, escaped); err != nil {
		return "", fmt.Errorf("daemonlifecycle: render launchd plist: %w", err)
	}
	return buf.String(), nil
}

var systemdTemplate = template.Must(template.New("systemd").Parse(`[Unit]
Description={{.Label}} agent session daemon
After=network.target

[Service]
Type=simple
ExecStart={{.ExecStart}}
Restart=on-failure
RestartSec=2

[Install]
WantedBy=default.target
`))

// quoteUnitArg quotes an argument for systemd's ExecStart= line (systemd's
// own quoting rules: wrap in double quotes, escape embedded quotes and
// backslashes).
func quoteUnitArg(s string) string {
	if !strings.ContainsAny(s, " \t\"'$") {
		return s
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
	return `"` + escaped + `"`
}

// GenerateSystemdUserUnit renders a Linux user-scoped systemd unit file.
func GenerateSystemdUserUnit(spec ServiceSpec) (string, error) {
	parts := make([]string, 0, len(spec.Args)+1)
	parts = append(parts, quoteUnitArg(spec.BinaryPath))
	for _, a := range spec.Args {
		parts = append(parts, quoteUnitArg(a))
	}

	var buf bytes.Buffer
	if err := systemdTemplate.Execute(&buf, struct {
		Label     string
		ExecStart string
	}{Label: spec.Label, ExecStart: strings.Join(parts, " ")}); err != nil {
		return "", fmt.Errorf("daemonlifecycle: render systemd unit: %w", err)
	}
	return buf.String(), nil
}

// GenerateWindowsTaskXML renders a Windows Task Scheduler task definition
// for `schtasks /create /xml`.
func GenerateWindowsTaskXML(spec ServiceSpec) (string, error) {
	type action struct {
		Command   string
		Arguments string
	}

	args := make([]string, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = escapeXML(a)
	}

	tmpl := template.Must(template.New("task").Parse(`<?xml version="1.0" encoding="UTF-16"?>
<Task version="1.2" xmlns="http://schemas.microsoft.com/windows/2004/02/mit/task">
  <Triggers>
    <LogonTrigger>
      <Enabled>true</Enabled>
    </LogonTrigger>
  </Triggers>
  <Principals>
    <Principal id="Author">
      <RunLevel>LeastPrivilege</RunLevel>
    </Principal>
  </Principals>
  <Settings>
    <DisallowStartIfOnBatteries>false</DisallowStartIfOnBatteries>
    <StopIfGoingOnBatteries>false</StopIfGoingOnBatteries>
  </Settings>
  <Actions Context="Author">
    <Exec>
      <Command>{{.Command}}</Command>
      <Arguments>{{.Arguments}}</Arguments>
    </Exec>
  </Actions>
</Task>
`))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, action{
		Command:   escapeXML(spec.BinaryPath),
		Arguments: strings.Join(args, " "),
	}); err != nil {
		return "", fmt.Errorf("daemonlifecycle: render task xml: %w", err)
	}
	return buf.String(), nil
}
