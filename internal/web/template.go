package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dkronst/juiced/internal/status"
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
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"pilotClass": func(s string) string {
		switch s {
		case "C", "D":
			return "charging"
		case "A", "B":
			return "idle"
		case "E", "F":
			return "fault"
		default:
			return "unknown"
		}
	},
	"amps": func(v float64) string {
		return fmt.Sprintf("%.1f A", v)
	},
	"volts": func(v float64) string {
		return fmt.Sprintf("%.1f V", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>juiced</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.charging { color: green; font-weight: bold; }
.idle { color: #888; }
.fault { color: red; font-weight: bold; }
.unknown { color: orange; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>juiced{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Charger</h2>
<table>
<tr><th>Pilot State</th><td id="pilot-state" class="{{pilotClass (stateOrUnknown (printf "%s" .Pilot))}}">{{stateOrUnknown (printf "%s" .Pilot)}}</td></tr>
<tr><th>Power</th><td id="power-state" class="{{if eq (printf "%s" .Power) "ON"}}on{{else}}off{{end}}">{{.Power}}</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
{{if .Fault}}<tr><th>Fault</th><td class="fault">{{.Fault.String}}</td></tr>{{end}}
</table>

<h2>Meter</h2>
<table>
<tr><th>Current</th><td>{{amps .Meter.RMSCurrentAmps}}{{if not .Meter.Valid}} (stale){{end}}</td></tr>
<tr><th>Peak Voltage</th><td>{{volts .Meter.PeakVoltageVolts}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} — {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>State Changes</th><td>{{.Counts.StateChanges}}</td></tr>
<tr><th>Power Ons</th><td>{{.Counts.PowerOns}}</td></tr>
<tr><th>Power Offs</th><td>{{.Counts.PowerOffs}}</td></tr>
<tr><th>Faults</th><td>{{.Counts.Faults}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Offered Current</th><td>{{amps .Config.OfferAmps}}</td></tr>
<tr><th>Watchdog</th><td>{{.Config.WatchdogHz}}Hz</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "evse/juiced/events";
  var dot = document.getElementById("live-dot");
  var pilotEl = document.getElementById("pilot-state");
  var powerEl = document.getElementById("power-state");

  function pilotClass(state) {
    if (state === "C" || state === "D") return "charging";
    if (state === "A" || state === "B") return "idle";
    if (state === "E" || state === "F") return "fault";
    return "unknown";
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.evse) {
        pilotEl.textContent = msg.evse.to;
        pilotEl.className = pilotClass(msg.evse.to);
        powerEl.textContent = msg.evse.power;
        powerEl.className = msg.evse.power === "ON" ? "on" : "off";
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
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
	indexTmpl.Execute(w, data)
}
