package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PiotrChr/RelayBoxController/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"onOff": status.StateString,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Relay Box</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
form { display: inline; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Relay Box</h1>
{{if .Display}}<p id="display">{{.Display}}</p>{{end}}

<h2>Relays</h2>
<table>
{{range .Relays}}<tr><th>{{.Index}}: {{.Name}}</th><td class="{{if .Energized}}on{{else}}off{{end}}">{{onOff .Energized}}</td>
<td><form method="post" action="/enable?circuit={{.Index}}"><button>On</button></form>
<form method="post" action="/disable?circuit={{.Index}}"><button>Off</button></form></td></tr>
{{else}}<tr><td>no sweep yet</td></tr>
{{end}}</table>

<h2>Queue</h2>
<table>
<tr><th>Pending</th><td>{{.Stats.Queued}} / {{.Stats.QueueCap}}</td></tr>
<tr><th>Executed</th><td>{{.Stats.Executed}}</td></tr>
<tr><th>Rejected</th><td>{{.Stats.Rejected}}</td></tr>
</table>

<h2>Buttons</h2>
<table>
<tr><th>Edges</th><td>{{.Stats.Buttons.Edges}}</td></tr>
<tr><th>Activations</th><td>{{.Stats.Buttons.Activations}}</td></tr>
<tr><th>Suppressed</th><td>{{.Stats.Buttons.Suppressed}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}: {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Lockout</th><td>{{.Config.LockoutMs}}ms</td></tr>
<tr><th>Outputs</th><td>{{if .Config.ActiveLow}}active-low{{else}}active-high{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/status">relay status</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Warn().Err(err).Msg("render index")
	}
}
