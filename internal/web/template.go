package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pin-timer/internal/status"
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
	"remaining": func(n int) string {
		if n < 0 {
			return "forever"
		}
		return fmt.Sprint(n)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pin Timer</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.high { color: green; font-weight: bold; }
.low { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Pin Timer</h1>

<h2>Timers ({{len .Slots}}/{{.Config.Capacity}})</h2>
<table>
<tr><th>Slot</th><th>Job</th><th>Kind</th><th>Period</th><th>Fired</th><th>Remaining</th><th>Pin</th></tr>
{{range .Slots}}<tr><td>{{.ID}}</td><td>{{.Job}}</td><td>{{.Kind}}</td><td>{{.PeriodMs}}ms</td><td>{{.Count}}</td><td>{{remaining .Remaining}}</td><td>{{if ge .Pin 0}}{{.Pin}} <span class="{{if eq .Level "HIGH"}}high{{else}}low{{end}}">{{.Level}}</span>{{else}}-{{end}}</td></tr>
{{else}}<tr><td colspan="7">no active timers</td></tr>
{{end}}</table>

<h2>Recent events</h2>
<table>
<tr><th>Time</th><th>Job</th><th>Slot</th><th>Count</th><th>Level</th><th></th></tr>
{{range .Newest}}<tr><td>{{.Time.UTC.Format "15:04:05.000"}}</td><td>{{.Job}}</td><td>{{.Slot}}</td><td>{{.Count}}</td><td>{{if .Level}}<span class="{{if eq .Level "HIGH"}}high{{else}}low{{end}}">{{.Level}}</span>{{else}}-{{end}}</td><td>{{if .Retired}}retired{{end}}</td></tr>
{{else}}<tr><td colspan="6">none yet</td></tr>
{{end}}</table>

<h2>Activity</h2>
<table>
<tr><th>Fired</th><td>{{.Counts.Fired}}</td></tr>
<tr><th>Retired</th><td>{{.Counts.Retired}}</td></tr>
<tr><th>Registration failures</th><td>{{.Counts.RegistrationFailures}}</td></tr>
<tr><th>Publish dropped</th><td>{{.Counts.PublishDropped}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} - {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">Metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	newest := make([]status.Event, 0, len(snap.Recent))
	for i := len(snap.Recent) - 1; i >= 0; i-- {
		newest = append(newest, snap.Recent[i])
	}
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Newest []status.Event
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Newest:   newest,
	}
	indexTmpl.Execute(w, data)
}
