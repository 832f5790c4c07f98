package view

import (
	"bytes"
	"html/template"
)

// PasswordPageData provides the dynamic fields for the password challenge.
type PasswordPageData struct {
	Slug     string
	HasError bool
}

var passwordPageTmpl = template.Must(template.New("password_page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<title>Password required</title>
	<style>
		:root {
			--bg: #090a0f;
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			--accent: #7dd3fc;
			--accent-strong: #38bdf8;
			--error: #f87171;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(420px, 92vw);
			text-align: center;
			box-shadow: 0 45px 100px rgba(0,0,0,0.35);
			backdrop-filter: blur(18px);
		}
		.lock { font-size: 3rem; margin-bottom: 12px; }
		h1 {
			font-size: 1.4rem;
			margin: 0 0 6px;
		}
		p {
			color: var(--muted);
			margin-top: 0;
		}
		.error {
			color: var(--error);
			background: rgba(248, 113, 113, 0.1);
			border: 1px solid rgba(248, 113, 113, 0.35);
			border-radius: 10px;
			padding: 10px;
			margin-bottom: 16px;
			font-size: 0.9rem;
		}
		input {
			width: 100%;
			padding: 12px 16px;
			margin-bottom: 14px;
			border: 1px solid var(--border);
			border-radius: 10px;
			background: rgba(255, 255, 255, 0.04);
			color: var(--text);
			font-size: 1rem;
		}
		input:focus {
			outline: none;
			border-color: var(--accent);
		}
		button {
			width: 100%;
			padding: 12px;
			border: none;
			border-radius: 999px;
			background: linear-gradient(120deg, var(--accent), var(--accent-strong));
			color: #050708;
			font-weight: 600;
			font-size: 1rem;
			cursor: pointer;
			transition: transform 0.15s ease, opacity 0.15s ease;
		}
		button:hover {
			transform: translateY(-1px);
			opacity: 0.92;
		}
		.meta {
			margin-top: 16px;
			font-size: 0.85rem;
			color: rgba(231, 236, 255, 0.65);
		}
	</style>
</head>
<body>
	<div class="card">
		<div class="lock">&#128274;</div>
		<h1>Restricted link</h1>
		<p>This link is password protected. Enter the password to continue.</p>
		{{if .HasError}}
		<div class="error">Incorrect password, please try again.</div>
		{{end}}
		<form method="POST" action="/{{.Slug}}">
			<input type="password" name="password" placeholder="Password" required autofocus>
			<button type="submit">Unlock and continue</button>
		</form>
		<div class="meta">/{{.Slug}}</div>
	</div>
</body>
</html>
`))

// RenderPasswordPage expands the password challenge template.
func RenderPasswordPage(data PasswordPageData) (string, error) {
	var buf bytes.Buffer
	if err := passwordPageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
