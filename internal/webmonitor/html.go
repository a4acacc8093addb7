package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Zone Occupancy Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
    <style>
        body { font-family: system-ui, sans-serif; background: #101418; color: #e8eaed; margin: 0; }
        .app { max-width: 1400px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 12px; }
        .title { font-size: 22px; font-weight: 600; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: #1b2128; border-radius: 8px; padding: 14px; }
        .panel h2 { margin: 0 0 8px; font-size: 16px; }
        #stream { width: 100%; height: auto; cursor: crosshair; display: block; background: #000; }
        .badge { padding: 3px 8px; border-radius: 10px; font-size: 12px; background: #3a4450; }
        .badge.live { background: #1e7d32; }
        .badge.alert { background: #b3261e; }
        .total { font-size: 48px; font-weight: 700; }
        .zones { display: grid; grid-template-columns: repeat(auto-fill, minmax(120px, 1fr)); gap: 8px; }
        .zone { border-radius: 6px; padding: 8px; background: #252d36; border-left: 4px solid #888; }
        .zone.over { background: #4a1d1a; }
        .zone .count { font-size: 26px; font-weight: 700; }
        .row { display: flex; gap: 8px; align-items: center; margin: 6px 0; flex-wrap: wrap; }
        button, input { background: #2b3440; color: #e8eaed; border: 1px solid #3d4855; border-radius: 4px; padding: 5px 10px; }
        button:hover { background: #38424f; }
        .muted { color: #9aa0a6; font-size: 12px; }
        #history { width: 100%; height: 160px; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Zone Occupancy Monitor</div>
            <span class="badge" id="status-badge">Waiting for data...</span>
        </div>

        <div class="grid">
            <div class="panel">
                <h2>Live Feed</h2>
                <img id="stream" src="/stream" alt="Composited live stream">
                <div class="row">
                    <button type="button" id="btn-finish">Finish zone</button>
                    <button type="button" id="btn-cancel">Cancel drawing</button>
                    <button type="button" id="btn-clear">Clear zones</button>
                    <span class="muted" id="draw-hint">Click the image to add zone points. Shift+click selects a zone.</span>
                </div>
                <div class="row">
                    <input id="source-input" placeholder="synthetic | replay:&lt;dir&gt; | push" size="32">
                    <button type="button" id="btn-source">Change source</button>
                    <span class="muted" id="source-status"></span>
                </div>
            </div>

            <div>
                <div class="panel">
                    <h2>Total Visitors</h2>
                    <div class="total" id="total-count">0</div>
                    <div class="row">
                        <label for="threshold-input">Threshold</label>
                        <input id="threshold-input" type="number" min="0" style="width:80px">
                        <button type="button" id="btn-threshold">Set</button>
                        <button type="button" id="btn-reset">Reset counts</button>
                    </div>
                    <div class="row">
                        <a href="/api/export/csv"><button type="button">Export CSV</button></a>
                        <a href="/charts/history" target="_blank"><button type="button">Charts</button></a>
                    </div>
                </div>
                <div class="panel" style="margin-top:16px;">
                    <h2>Zones</h2>
                    <div class="zones" id="zones-container"></div>
                </div>
                <div class="panel" style="margin-top:16px;">
                    <h2>History</h2>
                    <canvas id="history"></canvas>
                </div>
            </div>
        </div>
    </div>

    <script>
        const img = document.getElementById('stream');
        const badge = document.getElementById('status-badge');
        let zoneMeta = {};

        async function post(url, body) {
            const res = await fetch(url, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(body || {}),
            });
            return res.json();
        }

        function imagePoint(ev) {
            const rect = img.getBoundingClientRect();
            const sx = img.naturalWidth / rect.width;
            const sy = img.naturalHeight / rect.height;
            return {x: Math.round((ev.clientX - rect.left) * sx), y: Math.round((ev.clientY - rect.top) * sy)};
        }

        img.addEventListener('click', async (ev) => {
            const pt = imagePoint(ev);
            if (ev.shiftKey) {
                const res = await post('/api/zones/select', pt);
                badge.innerText = res.found ? 'Selected zone ' + res.selected_id : 'No zone at point';
            } else {
                const res = await post('/api/zones/draw/point', pt);
                document.getElementById('draw-hint').innerText = res.points + ' point(s)';
            }
        });
        document.getElementById('btn-finish').onclick = async () => {
            const res = await post('/api/zones/draw/finish');
            document.getElementById('draw-hint').innerText = res.error || ('Created ' + res.name);
            loadZones();
        };
        document.getElementById('btn-cancel').onclick = async () => {
            await post('/api/zones/draw/cancel');
            document.getElementById('draw-hint').innerText = 'Drawing cancelled';
        };
        document.getElementById('btn-clear').onclick = async () => {
            if (confirm('Delete all zones?')) { await post('/api/zones/clear'); loadZones(); }
        };
        document.getElementById('btn-threshold').onclick = async () => {
            const v = parseInt(document.getElementById('threshold-input').value, 10);
            const res = await post('/api/threshold', {threshold: isNaN(v) ? 20 : v});
            if (res.error) alert(res.error);
        };
        document.getElementById('btn-reset').onclick = () => post('/api/counts/reset');
        document.getElementById('btn-source').onclick = async () => {
            const src = document.getElementById('source-input').value;
            const res = await post('/api/source', {source: src});
            document.getElementById('source-status').innerText = res.error || res.status;
        };

        async function loadZones() {
            const res = await fetch('/api/zones').then(r => r.json());
            zoneMeta = {};
            (res.zones || []).forEach(z => { zoneMeta[z.id] = z; });
        }

        function render(data) {
            badge.className = 'badge live';
            badge.innerText = 'Live - seq ' + data.seq;
            document.getElementById('total-count').innerText = data.total || 0;
            const thr = document.getElementById('threshold-input');
            if (document.activeElement !== thr) thr.value = data.threshold;

            const alerting = new Set(data.alerts || []);
            if (alerting.size > 0) {
                badge.className = 'badge alert';
                badge.innerText = 'Over capacity: ' + [...alerting].map(id => (data.names || {})[id] || ('Zone ' + id)).join(', ');
            }

            const container = document.getElementById('zones-container');
            container.innerHTML = '';
            Object.keys(data.zones || {}).sort((a, b) => a - b).forEach(id => {
                const meta = zoneMeta[id];
                const div = document.createElement('div');
                div.className = 'zone' + (alerting.has(Number(id)) ? ' over' : '');
                if (meta) div.style.borderLeftColor = 'rgb(' + meta.color.join(',') + ')';
                const name = (data.names || {})[id] || ('Zone ' + id);
                div.innerHTML = '<div class="muted">' + name + '</div><div class="count">' +
                    String(data.zones[id]).padStart(2, '0') + '</div>';
                container.appendChild(div);
            });
            drawHistory(data.history || []);
        }

        function drawHistory(history) {
            const canvas = document.getElementById('history');
            const ctx = canvas.getContext('2d');
            canvas.width = canvas.clientWidth;
            canvas.height = canvas.clientHeight;
            ctx.clearRect(0, 0, canvas.width, canvas.height);
            if (history.length < 2) return;
            const max = Math.max(1, ...history.map(h => h.total));
            ctx.strokeStyle = '#4fc3f7';
            ctx.lineWidth = 2;
            ctx.beginPath();
            history.forEach((h, i) => {
                const x = i * canvas.width / (history.length - 1);
                const y = canvas.height - (h.total / max) * (canvas.height - 10) - 5;
                if (i === 0) ctx.moveTo(x, y); else ctx.lineTo(x, y);
            });
            ctx.stroke();
        }

        function connect() {
            const es = new EventSource('/api/status/stream');
            es.onmessage = (ev) => render(JSON.parse(ev.data));
            es.onerror = () => {
                badge.className = 'badge';
                badge.innerText = 'Reconnecting...';
                es.close();
                setTimeout(connect, 2000);
            };
        }

        loadZones();
        setInterval(loadZones, 5000);
        connect();
    </script>
</body>
</html>
`
