package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>LedgerBridge Runs</title>
  <style>
    :root {
      --ink: #1c2430;
      --paper: #f6f5f1;
      --card: #ffffff;
      --line: #d8d3c6;
      --accent: #2a6f66;
      --danger: #b5453c;
      --muted: #6e7682;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Segoe UI", "Avenir Next", sans-serif;
      color: var(--ink);
      background: var(--paper);
      padding: 24px;
    }
    .shell { max-width: 960px; margin: 0 auto; display: grid; gap: 14px; }
    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 16px;
    }
    h1 { margin: 0; font-size: 1.4rem; }
    .hint { color: var(--muted); font-size: 0.85rem; }
    input {
      width: 100%;
      padding: 8px 10px;
      border: 1px solid var(--line);
      border-radius: 8px;
      font: inherit;
    }
    button {
      margin-top: 8px;
      padding: 8px 16px;
      border: 0;
      border-radius: 8px;
      background: var(--accent);
      color: #fff;
      font: inherit;
      cursor: pointer;
    }
    table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    .failed { color: var(--danger); font-weight: 600; }
  </style>
</head>
<body>
  <div class="shell">
    <div class="card">
      <h1>LedgerBridge Runs</h1>
      <p class="hint">Paste an admin token with the sync:read scope, then load recent reconciliation passes.</p>
      <input id="token" type="password" placeholder="bearer token" />
      <button id="load">Load runs</button>
    </div>
    <div class="card">
      <table>
        <thead>
          <tr><th>Trigger</th><th>Started</th><th>Created</th><th>Updated</th><th>Deleted</th><th>Failed</th></tr>
        </thead>
        <tbody id="runs"><tr><td colspan="6" class="hint">No runs loaded yet.</td></tr></tbody>
      </table>
    </div>
  </div>
  <script>
    document.getElementById('load').addEventListener('click', async () => {
      const token = document.getElementById('token').value.trim();
      const body = document.getElementById('runs');
      try {
        const resp = await fetch('/v1/admin/runs?limit=50', {
          headers: {
            'Authorization': 'Bearer ' + token,
            'X-Correlation-Id': 'dashboard_' + Date.now()
          }
        });
        const data = await resp.json();
        if (!resp.ok) {
          body.innerHTML = '<tr><td colspan="6" class="failed">' + (data.message || resp.status) + '</td></tr>';
          return;
        }
        if (!data.runs.length) {
          body.innerHTML = '<tr><td colspan="6" class="hint">No runs recorded.</td></tr>';
          return;
        }
        body.innerHTML = data.runs.map(run =>
          '<tr><td>' + run.trigger + '</td><td>' + run.startedAt + '</td><td>' + run.created +
          '</td><td>' + run.updated + '</td><td>' + run.deleted +
          '</td><td class="' + (run.failed > 0 ? 'failed' : '') + '">' + run.failed + '</td></tr>'
        ).join('');
      } catch (err) {
        body.innerHTML = '<tr><td colspan="6" class="failed">' + err + '</td></tr>';
      }
    });
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, dashboardHTML)
}
