package output

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

type htmlReportData struct {
	GeneratedAt string
	Report      Report
	ErrorKinds  []string
	Passed      int
}

// GenerateHTMLReport renders rep as a standalone HTML page.
func GenerateHTMLReport(w io.Writer, rep Report) error {
	data := htmlReportData{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Report:      rep,
		ErrorKinds:  sortedKeys(rep.Errors),
	}
	for _, r := range rep.Thresholds {
		if r.Pass {
			data.Passed++
		}
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatSeconds": func(s float64) string {
			return time.Duration(s * float64(time.Second)).Round(time.Millisecond).String()
		},
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatPercent": func(part, total int64) string {
			if total == 0 {
				return "0.0"
			}
			return fmt.Sprintf("%.1f", (float64(part)/float64(total))*100)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Wallet Load Test Report</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 {
            font-size: 2rem;
            margin-bottom: 10px;
        }
        header .meta {
            opacity: 0.9;
            font-size: 0.9rem;
        }
        .content {
            padding: 40px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #667eea;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value {
            font-size: 2rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .card .subvalue {
            font-size: 0.85rem;
            color: #6c757d;
            margin-top: 5px;
        }
        .card.success {
            border-left-color: #10b981;
        }
        .card.error {
            border-left-color: #ef4444;
        }
        .card.warning {
            border-left-color: #f59e0b;
        }
        .section {
            margin-bottom: 40px;
        }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        table {
            width: 100%;
            border-collapse: collapse;
            background: white;
        }
        th, td {
            text-align: left;
            padding: 12px;
            border-bottom: 1px solid #e5e7eb;
        }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        tr:hover {
            background: #f8f9fa;
        }
        .badge {
            display: inline-block;
            padding: 4px 12px;
            border-radius: 12px;
            font-size: 0.85rem;
            font-weight: 600;
        }
        .badge-success {
            background: #d1fae5;
            color: #065f46;
        }
        .badge-error {
            background: #fee2e2;
            color: #991b1b;
        }
        .latency-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
            gap: 15px;
            margin-top: 20px;
        }
        .latency-item {
            background: #f8f9fa;
            padding: 15px;
            border-radius: 6px;
            text-align: center;
        }
        .latency-item .label {
            font-size: 0.85rem;
            color: #6c757d;
            margin-bottom: 5px;
        }
        .latency-item .value {
            font-size: 1.3rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .no-data {
            text-align: center;
            padding: 40px;
            color: #6c757d;
            font-style: italic;
        }
    </style>
</head>
<body>
    <div class="container">
        <header>
            <h1>Wallet Load Test Report</h1>
            <div class="meta">Run {{.Report.RunID}}</div>
            <div class="meta">Generated: {{.GeneratedAt}} | Duration: {{formatSeconds .Report.DurationSeconds}}</div>
        </header>

        <div class="content">
            <div class="grid">
                <div class="card">
                    <h3>Scheduled</h3>
                    <div class="value">{{.Report.Scheduled}}</div>
                    <div class="subvalue">{{.Report.Dispatched}} dispatched, peak {{.Report.PeakInFlight}} in flight</div>
                </div>
                <div class="card success">
                    <h3>Completed</h3>
                    <div class="value">{{.Report.Completed}}</div>
                    <div class="subvalue">{{formatPercent .Report.Completed .Report.Dispatched}}%</div>
                </div>
                <div class="card error">
                    <h3>Failed</h3>
                    <div class="value">{{.Report.Failed}}</div>
                    <div class="subvalue">{{formatPercent .Report.Failed .Report.Dispatched}}%</div>
                </div>
                {{if .Report.Unfinished}}
                <div class="card warning">
                    <h3>Unfinished</h3>
                    <div class="value">{{.Report.Unfinished}}</div>
                    <div class="subvalue">{{if .Report.TimedOut}}max duration reached{{else}}stopped early{{end}}</div>
                </div>
                {{end}}
            </div>

            <div class="section">
                <h2>Stages</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Stage</th>
                            <th>Success</th>
                            <th>Failed</th>
                            <th>Retries</th>
                            <th>P50 (ms)</th>
                            <th>P95 (ms)</th>
                            <th>P99 (ms)</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Report.Stages}}
                        <tr>
                            <td><strong>{{.Stage}}</strong></td>
                            <td>{{.Success}}</td>
                            <td>{{.Failed}}</td>
                            <td>{{.Retries}}</td>
                            {{if .Latency}}
                            <td>{{formatFloat .Latency.P50}}</td>
                            <td>{{formatFloat .Latency.P95}}</td>
                            <td>{{formatFloat .Latency.P99}}</td>
                            {{else}}
                            <td>-</td><td>-</td><td>-</td>
                            {{end}}
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>

            {{with .Report.WalletDuration}}
            <div class="section">
                <h2>Wallet Duration</h2>
                <div class="latency-grid">
                    <div class="latency-item"><div class="label">Min</div><div class="value">{{formatFloat .Min}}ms</div></div>
                    <div class="latency-item"><div class="label">Mean</div><div class="value">{{formatFloat .Mean}}ms</div></div>
                    <div class="latency-item"><div class="label">P50</div><div class="value">{{formatFloat .P50}}ms</div></div>
                    <div class="latency-item"><div class="label">P95</div><div class="value">{{formatFloat .P95}}ms</div></div>
                    <div class="latency-item"><div class="label">P99</div><div class="value">{{formatFloat .P99}}ms</div></div>
                    <div class="latency-item"><div class="label">Max</div><div class="value">{{formatFloat .Max}}ms</div></div>
                </div>
            </div>
            {{end}}

            {{if .ErrorKinds}}
            <div class="section">
                <h2>Errors</h2>
                <table>
                    <thead><tr><th>Kind</th><th>Count</th></tr></thead>
                    <tbody>
                        {{range .ErrorKinds}}
                        <tr><td>{{.}}</td><td>{{index $.Report.Errors .}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .Report.Thresholds}}
            <div class="section">
                <h2>Thresholds ({{.Passed}}/{{len .Report.Thresholds}} Passed)</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Threshold</th>
                            <th>Actual</th>
                            <th>Status</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Report.Thresholds}}
                        <tr>
                            <td>{{.Expr}}</td>
                            <td>{{formatFloat .Actual}}</td>
                            <td>
                                {{if .Pass}}
                                <span class="badge badge-success">✓ PASS</span>
                                {{else}}
                                <span class="badge badge-error">✗ FAIL</span>
                                {{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>
</body>
</html>
`
