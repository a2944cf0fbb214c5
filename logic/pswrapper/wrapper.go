// Package pswrapper generates the PowerShell payload used to run a command
// as another Windows account. Windows has no direct "spawn as user" call we
// can drive from exec.Cmd without the account's password, so the command is
// wrapped in a Start-Job invocation that imports a stored PSCredential.
//
// The package is pure string computation; it never runs PowerShell.
package pswrapper

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gurre/jobsession-go/state/principal"
	"golang.org/x/text/encoding/unicode"
)

// exitCodeProperty is the marker property the job emits as its final object
// so the outer script can tell the exit code apart from command output.
const exitCodeProperty = "JobSessionExitCode"

// Generator builds Start-Job wrapper scripts.
type Generator struct{}

// StartJobWrapper returns a script that runs args as the given account and
// relays the job's output to stdout line by line. The script exits with the
// wrapped command's exit code.
//
//	script, err := pswrapper.Generator{}.StartJobWrapper(
//	    []string{"python.exe", "task.py"},
//	    principal.WindowsUser{User: `CORP\render`, CredentialFile: `C:\creds\render.xml`})
func (Generator) StartJobWrapper(args []string, w principal.WindowsUser) (string, error) {
	if len(args) == 0 {
		return "", errors.New("pswrapper: empty command")
	}

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}

	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Stop'\n")
	b.WriteString("$jobArgs = [string[]]@(" + strings.Join(quoted, ", ") + ")\n")

	credentialFlag := ""
	if w.CredentialFile != "" {
		b.WriteString("$credential = Import-Clixml -Path " + Quote(w.CredentialFile) + "\n")
		b.WriteString("if ($credential.UserName -ne " + Quote(w.User) + ") {\n")
		b.WriteString("    [Console]::Error.WriteLine('credential does not belong to ' + " + Quote(w.User) + ")\n")
		b.WriteString("    exit 1\n")
		b.WriteString("}\n")
		credentialFlag = " -Credential $credential"
	}

	fmt.Fprintf(&b, "$job = Start-Job%s -ArgumentList (,$jobArgs) -ScriptBlock {\n", credentialFlag)
	b.WriteString("    param([string[]]$argv)\n")
	b.WriteString("    $exe = $argv[0]\n")
	b.WriteString("    $rest = @()\n")
	b.WriteString("    if ($argv.Count -gt 1) { $rest = $argv[1..($argv.Count - 1)] }\n")
	b.WriteString("    & $exe @rest 2>&1 | ForEach-Object { [string]$_ }\n")
	fmt.Fprintf(&b, "    [pscustomobject]@{ %s = $LASTEXITCODE }\n", exitCodeProperty)
	b.WriteString("}\n")

	b.WriteString("$exitCode = 0\n")
	b.WriteString("while ($true) {\n")
	b.WriteString("    $finished = $job.State -notin @('NotStarted', 'Running')\n")
	b.WriteString("    foreach ($item in (Receive-Job -Job $job)) {\n")
	fmt.Fprintf(&b, "        if ($item -is [psobject] -and $item.PSObject.Properties['%s']) {\n", exitCodeProperty)
	fmt.Fprintf(&b, "            $exitCode = [int]$item.%s\n", exitCodeProperty)
	b.WriteString("        } else {\n")
	b.WriteString("            [Console]::Out.WriteLine([string]$item)\n")
	b.WriteString("        }\n")
	b.WriteString("    }\n")
	b.WriteString("    if ($finished) { break }\n")
	b.WriteString("    Start-Sleep -Milliseconds 200\n")
	b.WriteString("}\n")
	b.WriteString("if ($job.State -eq 'Failed') { $exitCode = 1 }\n")
	b.WriteString("Remove-Job -Job $job -Force\n")
	b.WriteString("exit $exitCode\n")

	return b.String(), nil
}

// Quote renders s as a PowerShell single-quoted string literal. Inside single
// quotes the only special character is the quote itself, which is doubled.
//
//	pswrapper.Quote("it's") // 'it''s'
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// EncodeCommand converts a script to the form expected by
// powershell.exe -EncodedCommand: UTF-16LE bytes, base64 encoded.
//
//	payload, err := pswrapper.EncodeCommand(script)
func EncodeCommand(script string) (string, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	raw, err := enc.String(script)
	if err != nil {
		return "", fmt.Errorf("pswrapper: encode utf-16: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}
