package main

func getEmbeddedHTML() string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>picamstream</title>

	<style>
		* {
			margin: 0;
			padding: 0;
			box-sizing: border-box;
		}

		body {
			font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
			background: #0f1419;
			color: #e0e0e0;
			min-height: 100vh;
			padding: 20px;
		}

		.container {
			max-width: 1000px;
			margin: 0 auto;
		}

		header {
			display: flex;
			align-items: center;
			justify-content: space-between;
			margin-bottom: 16px;
		}

		.status-dot {
			display: inline-block;
			width: 8px;
			height: 8px;
			background: #f87171;
			border-radius: 50%;
			margin-right: 6px;
		}

		.status-dot.live {
			background: #4ade80;
		}

		.stream {
			width: 100%;
			background: #000;
			border-radius: 8px;
			display: block;
		}

		.stats {
			display: grid;
			grid-template-columns: repeat(auto-fit, minmax(180px, 1fr));
			gap: 12px;
			margin-top: 16px;
		}

		.card {
			background: #1a2027;
			border-radius: 8px;
			padding: 12px;
		}

		.card .label {
			font-size: 12px;
			color: #8b949e;
		}

		.card .value {
			font-size: 20px;
			margin-top: 4px;
		}

		ul.captures {
			list-style: none;
			margin-top: 16px;
		}

		ul.captures li a {
			color: #60a5fa;
			text-decoration: none;
			font-family: monospace;
		}
	</style>
</head>
<body>
	<div class="container">
		<header>
			<h1>picamstream</h1>
			<span><span id="dot" class="status-dot"></span><span id="state">connecting</span></span>
		</header>

		<img class="stream" src="/api/stream/mjpeg" alt="Live stream">

		<div class="stats">
			<div class="card"><div class="label">Captured</div><div class="value" id="captured">-</div></div>
			<div class="card"><div class="label">Saved</div><div class="value" id="saved">-</div></div>
			<div class="card"><div class="label">Viewers</div><div class="value" id="viewers">-</div></div>
			<div class="card"><div class="label">Storage</div><div class="value" id="storage">-</div></div>
		</div>

		<ul class="captures" id="captures"></ul>
	</div>

	<script>
		async function refresh() {
			try {
				const res = await fetch('/api/status');
				if (!res.ok) throw new Error(res.statusText);
				const data = await res.json();
				const live = data.pipeline.camera_initialized;
				document.getElementById('dot').classList.toggle('live', live);
				document.getElementById('state').textContent = live ? 'live' : 'camera unavailable';
				document.getElementById('captured').textContent = data.pipeline.capture.captured;
				document.getElementById('saved').textContent = data.pipeline.persist.saved;
				document.getElementById('viewers').textContent = data.pipeline.viewers;
				document.getElementById('storage').textContent =
					data.storage.used_gb.toFixed(2) + ' / ' + data.storage.cap_gb + ' GB';
			} catch (e) {
				document.getElementById('state').textContent = 'offline';
			}

			try {
				const res = await fetch('/api/captures?limit=10');
				const list = await res.json();
				const ul = document.getElementById('captures');
				ul.innerHTML = '';
				for (const c of list) {
					const li = document.createElement('li');
					const a = document.createElement('a');
					a.href = '/api/captures/download?name=' + encodeURIComponent(c.name);
					a.textContent = c.name;
					li.appendChild(a);
					ul.appendChild(li);
				}
			} catch (e) {}
		}

		refresh();
		setInterval(refresh, 5000);
	</script>
</body>
</html>`
}
