package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cmatc13/chipdesk/internal/chip"
)

// walletEnv names the variable holding the wallet chip commands act as.
const walletEnv = "CHIPDESK_WALLET_ID"

func newWalletCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the custodial wallet",
	}

	var id string
	connect := &cobra.Command{
		Use:   "connect",
		Short: "Look up a wallet by id, or create one when no id is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.desk.Connect(cmd.Context(), id)
			if err != nil {
				return err
			}

			if id == "" {
				successColor.Fprintln(a.out, "✓ Wallet created")
			} else {
				successColor.Fprintln(a.out, "✓ Wallet connected")
			}
			fmt.Fprintf(a.out, "  ID:      %s\n", w.ID)
			fmt.Fprintf(a.out, "  Address: %s\n", w.Address)
			dimColor.Fprintf(a.out, "  export %s=%s\n", walletEnv, w.ID)
			return nil
		},
	}
	connect.Flags().StringVar(&id, "id", "", "Existing wallet id")

	cmd.AddCommand(connect)
	return cmd
}

func newChipCmd(a *app) *cobra.Command {
	var walletID string

	cmd := &cobra.Command{
		Use:   "chip",
		Short: "Create, buy, permit and transfer chips",
	}
	cmd.PersistentFlags().StringVar(&walletID, "wallet", "", "Wallet id to act as (default $"+walletEnv+")")

	// connect runs before every chip command; the desk lives for one invocation.
	connect := func(cmd *cobra.Command) error {
		id := walletID
		if id == "" {
			id = os.Getenv(walletEnv)
		}
		if id == "" {
			return fmt.Errorf("no wallet given: pass --wallet or set %s", walletEnv)
		}
		w, err := a.desk.Connect(cmd.Context(), id)
		if err != nil {
			return err
		}
		dimColor.Fprintf(a.out, "Using wallet %s (%s)\n", w.ID, w.Address)
		return nil
	}

	cmd.AddCommand(
		newChipCreateCmd(a, connect),
		newChipBuyCmd(a, connect),
		newChipPermissionCmd(a, connect),
		newChipTransferCmd(a, connect),
	)
	return cmd
}

func newChipCreateCmd(a *app, connect func(*cobra.Command) error) *cobra.Command {
	in := chip.CreateInput{
		Number:    chip.Defaults.Number,
		DataBytes: chip.Defaults.DataBytes,
		Address:   chip.Defaults.Address,
	}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a chip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connect(cmd); err != nil {
				return err
			}
			receipt, err := a.desk.CreateChip(cmd.Context(), in)
			return a.printReceipt(fmt.Sprintf("Create chip %d", in.Number), receipt, err)
		},
	}

	cmd.Flags().Int64Var(&in.Number, "number", in.Number, "Chip number")
	cmd.Flags().StringVar(&in.DataBytes, "data", in.DataBytes, "Hex data bytes passed to the contract")
	cmd.Flags().StringVar(&in.Address, "address", in.Address, "Owner address")
	return cmd
}

func newChipBuyCmd(a *app, connect func(*cobra.Command) error) *cobra.Command {
	in := chip.BuyInput{
		ChipID:    chip.Defaults.ChipID,
		DataBytes: chip.Defaults.DataBytes,
	}

	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy a chip for the fixed price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connect(cmd); err != nil {
				return err
			}
			receipt, err := a.desk.BuyChip(cmd.Context(), in)
			return a.printReceipt(fmt.Sprintf("Buy chip %d", in.ChipID), receipt, err)
		},
	}

	cmd.Flags().Int64Var(&in.ChipID, "chip", in.ChipID, "Chip id")
	cmd.Flags().StringVar(&in.DataBytes, "data", in.DataBytes, "Hex data bytes passed to the contract")
	cmd.Flags().StringVar(&in.Address, "address", "", "Buyer address (default: the wallet address)")
	return cmd
}

func newChipPermissionCmd(a *app, connect func(*cobra.Command) error) *cobra.Command {
	in := chip.PermissionInput{
		ChipID:     chip.Defaults.ChipID,
		Permission: true,
	}

	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Set the transfer permission of a chip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connect(cmd); err != nil {
				return err
			}
			receipt, err := a.desk.SetPermission(cmd.Context(), in)
			return a.printReceipt(fmt.Sprintf("Set permission on chip %d", in.ChipID), receipt, err)
		},
	}

	cmd.Flags().Int64Var(&in.ChipID, "chip", in.ChipID, "Chip id")
	cmd.Flags().BoolVar(&in.Permission, "permission", in.Permission, "Permission value")
	return cmd
}

func newChipTransferCmd(a *app, connect func(*cobra.Command) error) *cobra.Command {
	in := chip.TransferInput{
		ChipID:    chip.Defaults.ChipID,
		Recipient: chip.Defaults.Address,
		DataBytes: chip.Defaults.DataBytes,
	}
	var skipPermission bool

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer a chip",
		Long: "Transfer a chip. A transfer is only accepted after a confirmed permission call\n" +
			"in the same session, so by default the permission is set first.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connect(cmd); err != nil {
				return err
			}
			if !skipPermission {
				receipt, err := a.desk.SetPermission(cmd.Context(), chip.PermissionInput{ChipID: in.ChipID, Permission: true})
				if err := a.printReceipt(fmt.Sprintf("Set permission on chip %d", in.ChipID), receipt, err); err != nil {
					return err
				}
			}
			receipt, err := a.desk.TransferChip(cmd.Context(), in)
			return a.printReceipt(fmt.Sprintf("Transfer chip %d", in.ChipID), receipt, err)
		},
	}

	cmd.Flags().Int64Var(&in.ChipID, "chip", in.ChipID, "Chip id")
	cmd.Flags().StringVar(&in.Recipient, "recipient", in.Recipient, "Recipient address")
	cmd.Flags().StringVar(&in.DataBytes, "data", in.DataBytes, "Hex data bytes passed to the contract")
	cmd.Flags().BoolVar(&skipPermission, "skip-permission", false, "Do not set the permission first")
	return cmd
}
