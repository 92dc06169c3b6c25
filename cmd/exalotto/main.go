// exalotto deploys the lottery system contracts and hands their
// administrative roles over to the owner and the governor.
//
// Configure it through flags, EXALOTTO_* environment variables, a .env file
// or exalotto.yaml.
package main

import "github.com/exalotto/deployer/internal/cli"

func main() {
	cli.Execute()
}
