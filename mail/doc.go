// Package mail sends the welcome email. [WelcomeDefinition] binds a
// [Sender] to the email topic; [SMTPSender] talks to a relay and
// [LogSender] only logs.
package mail
