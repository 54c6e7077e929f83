package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// paymentPageHandler serves the hosted payment page. The page reads the
// invoice id from its own URL, requests an address lease, and then polls
// the status route (plus a WebSocket for instant settle notification).
func (s *Server) paymentPageHandler(c *gin.Context) {
	if _, ok := parseInvoiceID(c); !ok {
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(paymentPageHTML))
}

const paymentPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Pay with USDT</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --bg: #09090b;
            --bg-subtle: #18181b;
            --border: #27272a;
            --text: #fafafa;
            --text-secondary: #a1a1aa;
            --accent: #22c55e;
            --red: #ef4444;
        }

        body {
            font-family: -apple-system, 'Segoe UI', sans-serif;
            background: var(--bg);
            color: var(--text);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            font-size: 15px;
        }

        .card {
            background: var(--bg-subtle);
            border: 1px solid var(--border);
            border-radius: 12px;
            padding: 32px;
            width: 420px;
            max-width: 92vw;
        }

        h1 { font-size: 18px; margin-bottom: 4px; }
        .sub { color: var(--text-secondary); font-size: 13px; margin-bottom: 24px; }

        .chains { display: flex; gap: 8px; margin-bottom: 20px; }
        .chains button {
            flex: 1;
            padding: 10px;
            background: var(--bg);
            color: var(--text);
            border: 1px solid var(--border);
            border-radius: 8px;
            cursor: pointer;
            font-size: 14px;
        }
        .chains button.active { border-color: var(--accent); color: var(--accent); }

        .address {
            font-family: monospace;
            font-size: 14px;
            word-break: break-all;
            background: var(--bg);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 14px;
            margin-bottom: 12px;
            cursor: pointer;
        }

        .meta { display: flex; justify-content: space-between; color: var(--text-secondary); font-size: 13px; }
        .state { margin-top: 20px; text-align: center; font-size: 14px; }
        .state.paid { color: var(--accent); }
        .state.error { color: var(--red); }
        .hidden { display: none; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Pay with USDT</h1>
        <div class="sub" id="invoice-label"></div>

        <div class="chains" id="chains">
            <button data-chain="TRC20" class="active">TRON (TRC20)</button>
            <button data-chain="POLYGON">Polygon</button>
        </div>

        <div id="lease" class="hidden">
            <div class="address" id="address" title="Click to copy"></div>
            <div class="meta">
                <span id="received"></span>
                <span id="countdown"></span>
            </div>
        </div>

        <div class="state" id="state">Requesting a payment address&hellip;</div>
    </div>

    <script>
        const invoiceId = parseInt(location.pathname.split('/')[2], 10);
        document.getElementById('invoice-label').textContent = 'Invoice #' + invoiceId;

        let chain = 'TRC20';
        let expiresAt = null;
        let pollTimer = null;

        const el = (id) => document.getElementById(id);

        document.querySelectorAll('#chains button').forEach((btn) => {
            btn.addEventListener('click', () => {
                document.querySelectorAll('#chains button').forEach((b) => b.classList.remove('active'));
                btn.classList.add('active');
                chain = btn.dataset.chain;
                createLease();
            });
        });

        el('address').addEventListener('click', () => {
            navigator.clipboard.writeText(el('address').textContent);
            setState('Address copied to clipboard');
        });

        function setState(msg, cls) {
            el('state').textContent = msg;
            el('state').className = 'state' + (cls ? ' ' + cls : '');
        }

        async function createLease() {
            clearInterval(pollTimer);
            el('lease').classList.add('hidden');
            setState('Requesting a payment address…');

            const res = await fetch('/pay/' + invoiceId + '/create?chain=' + chain, { method: 'POST' });
            const body = await res.json();

            if (res.status === 409) { setState('This invoice is already paid.', 'paid'); return; }
            if (!res.ok) { setState(body.message || 'Could not get an address.', 'error'); return; }

            expiresAt = new Date(body.expiresAt);
            el('address').textContent = body.address;
            el('lease').classList.remove('hidden');
            setState('Send the exact invoice amount to this address.');

            pollTimer = setInterval(poll, 5000);
            tickCountdown();
        }

        async function poll() {
            const res = await fetch('/pay/' + invoiceId + '/status');
            if (!res.ok) return;
            const body = await res.json();

            if (body.status === 'paid') {
                clearInterval(pollTimer);
                setState('Payment received. Thank you!', 'paid');
                el('countdown').textContent = '';
                return;
            }
            if (body.lease) expiresAt = new Date(body.lease.expiresAt);
            if (body.amountIn && parseFloat(body.amountIn) > 0) {
                el('received').textContent = 'Received: ' + body.amountIn + ' / ' + body.total;
            }
        }

        function tickCountdown() {
            setInterval(() => {
                if (!expiresAt) return;
                const left = Math.max(0, Math.floor((expiresAt - Date.now()) / 1000));
                const m = Math.floor(left / 60), s = left % 60;
                el('countdown').textContent = m + ':' + String(s).padStart(2, '0') + ' left';
            }, 1000);
        }

        // Instant settle notification; polling remains the fallback.
        try {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(proto + location.host + '/ws');
            ws.onopen = () => ws.send(JSON.stringify({ invoiceIds: [invoiceId] }));
            ws.onmessage = (msg) => {
                const ev = JSON.parse(msg.data);
                if (ev.type === 'invoice_paid') {
                    clearInterval(pollTimer);
                    setState('Payment received. Thank you!', 'paid');
                }
            };
        } catch (e) { /* polling covers it */ }

        createLease();
    </script>
</body>
</html>
`
