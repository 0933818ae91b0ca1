package chat

import (
	"fmt"
	"strings"
)

const (
	CmdExit = "/salir"
	CmdList = "/lista"

	// RegisteredPrefix starts the line confirming a username.
	RegisteredPrefix = "[registrado]"
	// Goodbye is the last line a client receives before its connection closes.
	Goodbye = "[¡Adios!]"

	ServerName = "Servidor"
)

// Command is a keyword the server understands once a client is connected.
type Command struct {
	Name        string
	Description string
}

// Commands is sent to every client before registration, in this order.
var Commands = []Command{
	{Name: CmdExit, Description: "Desconecta del servidor."},
	{Name: CmdList, Description: "Lista a los otros usuarios en el chat."},
}

// IsCommand reports whether s is a reserved command keyword.
func IsCommand(s string) bool {
	for _, c := range Commands {
		if c.Name == s {
			return true
		}
	}
	return false
}

const (
	msgAskUsername   = "Escriba su nombre de usuario, debe ser único"
	msgEmptyUsername = "Envió una cadena vacía."
	msgCommandName   = "Su nombre es un comando, elija otro."
	msgListStart     = ServerName + ": Inicia lista de usuarios"
	msgListEnd       = ServerName + ": Termina lista de usuarios"
	msgRateLimited   = ServerName + ": Demasiados mensajes, espera un momento."
)

func msgUsernameTaken(name string) string {
	return fmt.Sprintf("%s ya está ocupado, elige otro nombre de usuario.", name)
}

func msgWelcome(name string) string {
	return fmt.Sprintf("%s: %s bienvenid@ al chat.", ServerName, name)
}

func msgJoined(name string) string {
	return fmt.Sprintf("[%s ha ingresado al chat.]", name)
}

func msgLeft(name string) string {
	return fmt.Sprintf("%s se ha desconectado.", name)
}

// FormatCommand renders one entry of the command table.
func FormatCommand(c Command) string {
	return c.Name + "\t" + c.Description
}

// FormatRegistered renders the registration confirmation for name.
func FormatRegistered(name string) string {
	return RegisteredPrefix + " " + name
}

// FormatChat renders a relayed line as "[[from]]: text".
func FormatChat(from, text string) string {
	return "[[" + from + "]]: " + text
}

// ParseChat splits a relayed line into sender and text.
// ok is false for any line that is not a relayed chat message.
func ParseChat(line string) (from, text string, ok bool) {
	if !strings.HasPrefix(line, "[[") {
		return "", "", false
	}
	end := strings.Index(line, "]]: ")
	if end <= 2 {
		return "", "", false
	}
	return line[2:end], line[end+len("]]: "):], true
}

// ParseRegistered extracts the confirmed username from a registration line.
func ParseRegistered(line string) (string, bool) {
	if !strings.HasPrefix(line, RegisteredPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, RegisteredPrefix)), true
}
