package google

// HTML pages served by the loopback callback server. Placeholders in
// {{DOUBLE_BRACES}} are substituted with strings.Replace before writing the
// response.

// AuthLinkHtml is the landing page listing the authorization link, shown
// when the user opens the loopback server root directly.
const AuthLinkHtml = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Sign in - wscli</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f5f6f8;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.08);
            max-width: 480px;
        }
        h1 { color: #1f2937; font-size: 1.4rem; }
        p { color: #6b7280; }
        .button {
            display: inline-block;
            margin-top: 1rem;
            background: #2563eb;
            color: white;
            padding: 0.75rem 1.5rem;
            border-radius: 8px;
            text-decoration: none;
            font-weight: 600;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorize wscli</h1>
        <p>Click the button below to sign in with your Google account.</p>
        <a class="button" href="{{AUTH_URL}}">Sign in with Google</a>
    </div>
</body>
</html>`

// LoginSuccessHtml is shown after a successful code exchange. It names the
// on-disk token path so the user knows where the credential landed.
const LoginSuccessHtml = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authentication Successful - wscli</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f5f6f8;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.08);
            max-width: 520px;
        }
        .icon { font-size: 3rem; }
        h1 { color: #047857; font-size: 1.4rem; }
        p { color: #6b7280; }
        code {
            display: block;
            margin-top: 0.75rem;
            background: #f3f4f6;
            border-radius: 6px;
            padding: 0.5rem;
            word-break: break-all;
            font-size: 0.85rem;
            color: #111827;
        }
        .notice {
            margin-top: 1rem;
            background: #fef3c7;
            border-radius: 8px;
            padding: 0.75rem;
            color: #92400e;
            font-size: 0.9rem;
            text-align: left;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="icon">&#10003;</div>
        <h1>Authentication successful</h1>
        <p>You can close this window and return to the terminal.</p>
        <p>Your credential was saved to:</p>
        <code>{{TOKEN_PATH}}</code>
        {{VCS_NOTICE}}
    </div>
</body>
</html>`

// VCSNoticeHtml is injected into the success page when the token file lives
// inside the working directory, where it could be committed by accident.
const VCSNoticeHtml = `<div class="notice">The token file is inside your project directory. Add it to your version-control ignore rules (for example .gitignore) so it is never committed.</div>`

// CSRFErrorHtml is served on a state mismatch. It is deliberately distinct
// from the generic error page: a bad state means the request did not come
// from the flow this server started.
const CSRFErrorHtml = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Request Rejected - wscli</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f5f6f8;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.08);
            max-width: 520px;
        }
        h1 { color: #b91c1c; font-size: 1.4rem; }
        p { color: #6b7280; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Request rejected</h1>
        <p>The state parameter of this callback did not match the pending sign-in attempt. The request may be a replay or forged cross-site request and was not processed.</p>
        <p>Close this window and run the login command again.</p>
    </div>
</body>
</html>`

// AuthErrorHtml is served when the code exchange fails. The classified
// error code, reason, numbered fix steps and optional links are substituted
// in.
const AuthErrorHtml = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authentication Failed - wscli</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f5f6f8;
        }
        .container {
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.08);
            max-width: 560px;
        }
        h1 { color: #b91c1c; font-size: 1.4rem; }
        .code { color: #6b7280; font-size: 0.85rem; letter-spacing: 0.05em; }
        p { color: #374151; }
        ol { color: #374151; }
        a { color: #2563eb; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authentication failed</h1>
        <div class="code">{{ERROR_CODE}}</div>
        <p>{{ERROR_REASON}}</p>
        <ol>{{FIX_STEPS}}</ol>
        {{LINKS}}
    </div>
</body>
</html>`
